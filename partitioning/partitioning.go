package partitioning

import (
	"encoding/binary"
	"fmt"
	"github.com/spaolacci/murmur3"
	"math"
	"strings"
)

type Strategy string

const (
	// KeyDefault partitions on the entire key.
	KeyDefault Strategy = "keyDefault"
	// RegionPrefixed partitions on the region tag in front of the first dash, so "EU-key-7" lands with all other EU keys.
	RegionPrefixed Strategy = "regionPrefixed"
	// ExplicitPartitionAware follows the grid's '@' convention: "key-7@EU" partitions on "EU".
	ExplicitPartitionAware Strategy = "explicitPartitionAware"
)

const (
	DefaultPartitionCount = 271
	murmurSeed            = 0x01000193
)

func ParseStrategy(s string) (Strategy, error) {

	switch Strategy(s) {
	case KeyDefault, RegionPrefixed, ExplicitPartitionAware:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown partitioning strategy: '%s'", s)
	}

}

func Key(i int) string {
	return fmt.Sprintf("key-%d", i)
}

func Value(i int) string {
	return fmt.Sprintf("value-%d", i)
}

func Keys(n int) []string {

	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = Key(i)
	}

	return keys

}

func (s Strategy) RegionalKey(region string, i int) string {

	if s == ExplicitPartitionAware {
		return fmt.Sprintf("%s@%s", Key(i), region)
	}

	return fmt.Sprintf("%s-%s", region, Key(i))

}

func (s Strategy) RegionalKeys(region string, n int) []string {

	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = s.RegionalKey(region, i)
	}

	return keys

}

func (s Strategy) PartitionKey(key string) string {

	switch s {
	case RegionPrefixed:
		if i := strings.Index(key, "-"); i > 0 {
			return key[:i]
		}
	case ExplicitPartitionAware:
		if i := strings.Index(key, "@"); i > -1 {
			return key[i+1:]
		}
	}

	return key

}

// PartitionID maps a partition key onto one of count partitions the same way the grid does for string keys:
// murmur3 over the serialized string (big-endian length followed by its UTF-8 bytes).
func PartitionID(partitionKey string, count int) int32 {

	if count <= 0 {
		return 0
	}

	payload := make([]byte, 4+len(partitionKey))
	binary.BigEndian.PutUint32(payload, uint32(len(partitionKey)))
	copy(payload[4:], partitionKey)

	hash := int32(murmur3.Sum32WithSeed(payload, murmurSeed))
	if hash == math.MinInt32 {
		return 0
	}
	if hash < 0 {
		hash = -hash
	}

	return hash % int32(count)

}

func (s Strategy) PartitionForKey(key string, count int) int32 {
	return PartitionID(s.PartitionKey(key), count)
}
