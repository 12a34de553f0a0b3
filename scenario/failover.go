package scenario

import (
	"context"
	"errors"
	"fmt"
	"hazeltopo/cluster"
	"hazeltopo/dataset"
	"hazeltopo/grid"
	"time"
)

var ErrUnexpectedQueryResult = errors.New("query returned unexpected result")

const (
	mappingStatement = `CREATE OR REPLACE MAPPING %s (%s) TYPE IMap OPTIONS ('keyFormat' = 'varchar', 'valueFormat' = 'json-flat')`
	personColumns    = `__key VARCHAR, name VARCHAR, age INT, active BOOLEAN, departmentId VARCHAR`
	departmentCols   = `__key VARCHAR, id VARCHAR, name VARCHAR, location VARCHAR`
	joinQuery        = `SELECT p.name, d.name AS department_name FROM %s p JOIN %s d ON p.departmentId = d.id`
)

func failoverNames(kind string, abrupt bool) (string, string) {

	if abrupt {
		return fmt.Sprintf("Failover-%sTermination", kind), "node termination"
	}

	return fmt.Sprintf("Failover-%sShutdown", kind), "node shutdown"

}

// predicateFailover keeps evaluating the person query while a member leaves. Every evaluation must return exactly
// the persons the query matches in the seed data.
func predicateFailover(abrupt bool) Scenario {

	name, event := failoverNames("PredicateQuery", abrupt)

	return Scenario{
		Name:     name,
		Family:   FamilyFailoverQueries,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			victim, dir, err := x.prepareDirectory(ctx)
			if err != nil {
				return err
			}

			persons, err := dir.Persons(ctx)
			if err != nil {
				return err
			}
			q, ok := persons.(grid.QueryableMap)
			if !ok {
				return fmt.Errorf("%w: predicate queries", grid.ErrCapabilityUnsupported)
			}

			expected := len(dataset.ExpectedQueryMatches())
			unit := func(ctx context.Context) error {
				docs, err := q.ValuesWhere(ctx, dataset.PersonQuery)
				if err != nil {
					return err
				}
				if len(docs) != expected {
					return fmt.Errorf("%w: %d persons matched '%s', expected %d", ErrUnexpectedQueryResult, len(docs), dataset.PersonQuery, expected)
				}
				return nil
			}

			return x.disruptWorkload(ctx, "Predicate query", event, unit, victim, abrupt)
		},
	}

}

// sqlFailover keeps running an inner join of persons and departments while a member leaves.
func sqlFailover(abrupt bool) Scenario {

	name, event := failoverNames("SqlQuery", abrupt)

	return Scenario{
		Name:     name,
		Family:   FamilyFailoverQueries,
		Outcomes: []string{name},
		run: func(ctx context.Context, x *Execution) error {
			provider, ok := x.env.Backend.(grid.SQLProvider)
			if !ok {
				return fmt.Errorf("%w: sql", grid.ErrCapabilityUnsupported)
			}
			sql := provider.SQL()

			victim, dir, err := x.prepareDirectory(ctx)
			if err != nil {
				return err
			}
			if err := sql.Exec(ctx, fmt.Sprintf(mappingStatement, dir.PersonsMap(), personColumns)); err != nil {
				return err
			}
			if err := sql.Exec(ctx, fmt.Sprintf(mappingStatement, dir.DepartmentsMap(), departmentCols)); err != nil {
				return err
			}

			expected := dataset.ExpectedJoinRows()
			statement := fmt.Sprintf(joinQuery, dir.PersonsMap(), dir.DepartmentsMap())
			unit := func(ctx context.Context) error {
				rows, err := sql.QueryRows(ctx, statement)
				if err != nil {
					return err
				}
				if len(rows) != expected {
					return fmt.Errorf("%w: join yielded %d rows, expected %d", ErrUnexpectedQueryResult, len(rows), expected)
				}
				return nil
			}

			return x.disruptWorkload(ctx, "SQL query", event, unit, victim, abrupt)
		},
	}

}

// prepareDirectory adds the member that is going to leave and loads the person directory once it has joined.
func (x *Execution) prepareDirectory(ctx context.Context) (cluster.MemberHandle, *dataset.PersonDirectory, error) {

	if err := x.enter(PhaseLoading); err != nil {
		return cluster.MemberHandle{}, nil, err
	}

	victim, err := x.startMember(ctx)
	if err != nil {
		return cluster.MemberHandle{}, nil, err
	}
	x.awaitStable(ctx)

	dir := dataset.NewPersonDirectory(x.env.Backend, dataset.DefaultPersonsMap, dataset.DefaultDepartmentsMap)
	x.onRelease(dir.Destroy)
	if _, err := dir.Populate(ctx); err != nil {
		return cluster.MemberHandle{}, nil, err
	}

	return victim, dir, nil

}

// disruptWorkload runs unit in the background, removes victim once the first unit went through, and concludes
// from how the workload fared during the disruption and once more after the cluster settled. The distributions
// before and after the removal are attached to the outcome.
func (x *Execution) disruptWorkload(ctx context.Context, label, event string, unit unitFunc, victim cluster.MemberHandle, abrupt bool) error {

	settings := x.env.Settings
	entries := len(dataset.Persons()) + len(dataset.Departments())

	if err := x.topologyReport(ctx, PhaseSnapshotBefore, labelInitial, entries); err != nil {
		return err
	}

	if err := x.enter(PhaseMutating); err != nil {
		return err
	}

	w := startWorker(ctx, x.name, unit, settings.PauseBetweenUnits)
	if err := w.awaitStart(settings.StartGateTimeout); err != nil {
		if _, joined := w.stopAndJoin(settings.JoinTimeout); !joined {
			x.note("background %s did not exit within %v", label, settings.JoinTimeout)
		}
		x.conclude(false, "Query did not start within timeout")
		return nil
	}

	var err error
	if abrupt {
		err = x.env.Controller.TerminateAbruptly(ctx, victim)
	} else {
		err = x.removeGracefully(ctx, victim)
	}
	if err != nil {
		w.stopAndJoin(settings.JoinTimeout)
		return err
	}

	select {
	case <-ctx.Done():
	case <-time.After(settings.ObservationWindow):
	}

	r, joined := w.stopAndJoin(settings.JoinTimeout)
	if !joined {
		x.note("background %s did not exit within %v", label, settings.JoinTimeout)
	}

	if err := x.stabilize(ctx); err != nil {
		return err
	}
	if err := x.topologyReport(ctx, PhaseSnapshotAfter, labelNew, entries); err != nil {
		return err
	}

	if r.FirstError != nil {
		x.conclude(false, fmt.Sprintf("%s failed during %s: %v", label, event, r.FirstError))
		return nil
	}

	if err := x.enter(PhaseVerifying); err != nil {
		return err
	}
	if err := unit(ctx); err != nil {
		x.conclude(false, fmt.Sprintf("%s failed after %s once cluster settled: %v", label, event, err))
		return nil
	}

	x.conclude(true, fmt.Sprintf("%s was resilient to %s (%d runs, %d retried while partitions had no owner)", label, event, r.Units, r.Retries))
	return nil

}
