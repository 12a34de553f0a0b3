package main

import (
	"context"
	"errors"
	"hazeltopo/partitioning"
	"testing"
	"time"
)

type testConfigPropertyAssigner struct {
	dummyConfig map[string]any
}

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

func (a testConfigPropertyAssigner) Assign(keyPath string, eval func(string, any) error, assign func(any)) error {

	if value, ok := a.dummyConfig[keyPath]; ok {
		if err := eval(keyPath, value); err != nil {
			return err
		}
		assign(value)
	} else {
		return errors.New("test error: unable to find value in dummy config for given key path " + keyPath)
	}

	return nil

}

func validGridConfig() map[string]any {

	return map[string]any{
		"grid.backend":                          "embedded",
		"grid.partitionCount":                   271,
		"grid.partitioningStrategy":             "explicitPartitionAware",
		"grid.embedded.initialMembers":          2,
		"grid.embedded.backupCount":             1,
		"grid.embedded.failureDetectionMs":      1500,
		"grid.hazelcast.clusterName":            "hazelcastplatform",
		"grid.hazelcast.members":                []any{"hazelcastimdg.hazelcastplatform.svc.cluster.local:5701"},
		"cluster.timeouts.startupSeconds":       60,
		"cluster.timeouts.shutdownSeconds":      60,
		"cluster.timeouts.stabilizationSeconds": 10,
		"cluster.timeouts.quiescenceWindowMs":   1000,
		"cluster.timeouts.pollIntervalMs":       100,
	}

}

func TestPopulateGridConfig(t *testing.T) {

	t.Log("given a grid configuration")
	{
		t.Log("\twhen all values are valid")
		{
			c, err := populateGridConfig(testConfigPropertyAssigner{validGridConfig()})

			msg := "\t\tno error must be returned"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tvalues must have been assigned"
			if c.Backend == backendEmbedded && c.PartitionCount == 271 && c.Strategy == partitioning.ExplicitPartitionAware &&
				c.InitialMembers == 2 && c.FailureDetection == 1500*time.Millisecond && len(c.Members) == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, c)
			}
		}

		t.Log("\twhen the backend is unknown")
		{
			cfg := validGridConfig()
			cfg["grid.backend"] = "redis"

			_, err := populateGridConfig(testConfigPropertyAssigner{cfg})

			msg := "\t\terror must be returned"
			if err != nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}

func TestConnect(t *testing.T) {

	t.Log("given an embedded grid configuration")
	{
		t.Log("\twhen connecting")
		{
			a := testConfigPropertyAssigner{validGridConfig()}
			c, _ := populateGridConfig(a)

			backend, controller, err := connect(context.TODO(), c, a)

			msg := "\t\tno error must be returned"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
			defer backend.Shutdown(context.TODO())

			msg = "\t\tinitial members must be part of the grid and known to the controller"
			if len(backend.Members()) == 2 && len(controller.Members(context.TODO())) == 2 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, backend.Members())
			}

			msg = "\t\tinitial members must not count as ad-hoc members"
			if err := controller.ReleaseAdHoc(context.TODO()); err == nil && len(backend.Members()) == 2 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}
	}

}
