package logging

import (
	"fmt"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"io"
	"os"
	"runtime"
	"strings"
)

const ApiEvent = "api event"
const ScenarioEvent = "scenario event"
const ClusterEvent = "cluster event"
const DatasetEvent = "dataset event"
const SnapshotEvent = "snapshot event"
const VerificationEvent = "verification event"
const TimingEvent = "timing event"
const IoEvent = "io event"
const HzEvent = "hazelcast event"
const GridEvent = "embedded grid event"
const ConfigurationEvent = "configuration event"

type LogProvider struct {
	ClientID uuid.UUID
}

func init() {

	log.SetFormatter(&log.JSONFormatter{})

	level, out := levelAndOutput(os.Getenv("LOG_LEVEL"))
	log.SetLevel(level)
	log.SetOutput(out)
	log.SetReportCaller(false)

}

// levelAndOutput maps the LOG_LEVEL value to a logrus level. Warnings and errors go to stderr, everything else
// to stdout; unknown values fall back to info.
func levelAndOutput(definedLogLevel string) (log.Level, io.Writer) {

	switch strings.ToLower(definedLogLevel) {
	case "trace":
		return log.TraceLevel, os.Stdout
	case "debug":
		return log.DebugLevel, os.Stdout
	case "warn":
		return log.WarnLevel, os.Stderr
	case "error":
		return log.ErrorLevel, os.Stderr
	default:
		return log.InfoLevel, os.Stdout
	}

}

func (lp *LogProvider) LogIoEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": IoEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogApiEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": ApiEvent,
	}

	lp.doLog(msg, fields, level)

}

// LogTimingEvent reports how long a single step of a scenario took; subject is usually the scenario name.
func (lp *LogProvider) LogTimingEvent(operation string, subject string, tookMs int, level log.Level) {

	fields := log.Fields{
		"kind":      TimingEvent,
		"operation": operation,
		"subject":   subject,
		"tookMs":    tookMs,
	}

	lp.doLog(fmt.Sprintf("'%s' took %d ms", operation, tookMs), fields, level)

}

func (lp *LogProvider) LogScenarioEvent(scenario string, msg string, level log.Level) {

	fields := log.Fields{
		"kind":     ScenarioEvent,
		"scenario": scenario,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogClusterEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": ClusterEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogDatasetEvent(mapName string, msg string, level log.Level) {

	fields := log.Fields{
		"kind":    DatasetEvent,
		"mapName": mapName,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogSnapshotEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": SnapshotEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogVerificationEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": VerificationEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogHzEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": HzEvent,
	}

	lp.doLog(msg, fields, level)
}

func (lp *LogProvider) LogGridEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": GridEvent,
	}

	lp.doLog(msg, fields, level)
}

func (lp *LogProvider) LogErrUponConfigRetrieval(keyPath string, err error, level log.Level) {

	lp.LogConfigEvent(keyPath, "config file", fmt.Sprintf("encountered error upon attempt to extract config value: %v", err), level)

}

func (lp *LogProvider) LogConfigEvent(configValue string, source string, msg string, level log.Level) {

	fields := log.Fields{
		"kind":   ConfigurationEvent,
		"value":  configValue,
		"source": source,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) doLog(msg string, fields log.Fields, level log.Level) {

	fields["caller"] = getCaller()
	fields["client"] = lp.ClientID

	entry := log.WithFields(fields)
	if level == log.FatalLevel {
		entry.Fatal(msg)
		return
	}
	entry.Log(level, msg)

}

func getCaller() string {

	// Skipping three stacks will bring us to the method or function that originally invoked the logging method
	pc, _, _, ok := runtime.Caller(3)

	if !ok {
		return "unknown"
	}

	file, line := runtime.FuncForPC(pc).FileLine(pc)
	return fmt.Sprintf("%s:%d", file, line)

}
