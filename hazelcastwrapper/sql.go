package hazelcastwrapper

import (
	"context"
	"fmt"
	"github.com/hazelcast/hazelcast-go-client"
	log "github.com/sirupsen/logrus"
)

type sqlService struct {
	client *hazelcast.Client
}

func (s *sqlService) QueryRows(ctx context.Context, statement string, params ...any) ([][]any, error) {

	result, err := s.client.SQL().Execute(ctx, statement, params...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() {
		if err := result.Close(); err != nil {
			lp.LogHzEvent(fmt.Sprintf("unable to close sql result: %v", err), log.WarnLevel)
		}
	}()

	it, err := result.Iterator()
	if err != nil {
		return nil, translateErr(err)
	}

	var rows [][]any
	for it.HasNext() {
		row, err := it.Next()
		if err != nil {
			return nil, translateErr(err)
		}
		columns := row.Metadata().ColumnCount()
		values := make([]any, columns)
		for i := 0; i < columns; i++ {
			if values[i], err = row.Get(i); err != nil {
				return nil, err
			}
		}
		rows = append(rows, values)
	}

	return rows, nil

}

func (s *sqlService) Exec(ctx context.Context, statement string, params ...any) error {

	result, err := s.client.SQL().Execute(ctx, statement, params...)
	if err != nil {
		return translateErr(err)
	}

	return result.Close()

}
