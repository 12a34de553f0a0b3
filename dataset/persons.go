package dataset

import (
	"context"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/grid"
)

type (
	Person struct {
		Name         string
		Age          int
		Active       bool
		DepartmentID string
	}
	Department struct {
		ID       string
		Name     string
		Location string
	}
	// PersonDirectory is the small relational dataset used by the query failover scenarios: persons referencing
	// departments, with one department id that has no department entry.
	PersonDirectory struct {
		store                      grid.MapStore
		personsMap, departmentsMap string
		persons, departments       grid.Map
	}
)

const (
	DefaultPersonsMap     = "persons"
	DefaultDepartmentsMap = "departments"
	numPersons            = 100
)

// PersonQuery selects active 25-year-olds, or anyone under 20 in department D3.
var PersonQuery = grid.Filter{
	{
		{Field: "age", Op: grid.OpEqual, Value: 25},
		{Field: "active", Op: grid.OpEqual, Value: true},
	},
	{
		{Field: "age", Op: grid.OpLess, Value: 20},
		{Field: "departmentId", Op: grid.OpEqual, Value: "D3"},
	},
}

func Departments() []Department {

	return []Department{
		{"D1", "Engineering", "Building A"},
		{"D2", "Marketing", "Building A"},
		{"D3", "Finance", "Building B"},
	}

}

// Persons returns p1 through p100 keyed by their id. The first eight are named; the rest follow a fixed formula.
func Persons() map[string]Person {

	persons := map[string]Person{
		"p1": {"Alice", 30, true, "D1"},
		"p2": {"Bob", 25, true, "D1"},
		"p3": {"Charlie", 35, false, "D2"},
		"p4": {"Diana", 28, true, "D2"},
		"p5": {"Edward", 22, false, "D3"},
		"p6": {"Frank", 40, true, "D1"},
		"p7": {"Grace", 29, false, "D2"},
		"p8": {"Helen", 45, true, "D4"},
	}
	for i := 9; i <= numPersons; i++ {
		persons[fmt.Sprintf("p%d", i)] = Person{
			Name:         fmt.Sprintf("Person%d", i),
			Age:          20 + i%30,
			Active:       i%2 == 0,
			DepartmentID: fmt.Sprintf("D%d", i%4+1),
		}
	}

	return persons

}

func (p Person) Document() grid.Document {

	return grid.Document{
		"name":         p.Name,
		"age":          p.Age,
		"active":       p.Active,
		"departmentId": p.DepartmentID,
	}

}

func (d Department) Document() grid.Document {

	return grid.Document{
		"id":       d.ID,
		"name":     d.Name,
		"location": d.Location,
	}

}

// ExpectedQueryMatches evaluates PersonQuery against the seed data.
func ExpectedQueryMatches() []string {

	var names []string
	for _, p := range Persons() {
		if PersonQuery.Matches(p.Document()) {
			names = append(names, p.Name)
		}
	}

	return names

}

// ExpectedJoinRows is the number of persons whose department exists, which is what an inner join of persons and
// departments yields.
func ExpectedJoinRows() int {

	known := map[string]bool{}
	for _, d := range Departments() {
		known[d.ID] = true
	}

	rows := 0
	for _, p := range Persons() {
		if known[p.DepartmentID] {
			rows++
		}
	}

	return rows

}

func NewPersonDirectory(store grid.MapStore, personsMap, departmentsMap string) *PersonDirectory {
	return &PersonDirectory{store: store, personsMap: personsMap, departmentsMap: departmentsMap}
}

func (d *PersonDirectory) PersonsMap() string {
	return d.personsMap
}

func (d *PersonDirectory) DepartmentsMap() string {
	return d.departmentsMap
}

func (d *PersonDirectory) Persons(ctx context.Context) (grid.Map, error) {

	if d.persons == nil {
		m, err := d.store.GetMap(ctx, d.personsMap)
		if err != nil {
			return nil, err
		}
		d.persons = m
	}

	return d.persons, nil

}

// Populate writes all departments and persons and returns the number of entries written.
func (d *PersonDirectory) Populate(ctx context.Context) (int, error) {

	departments, err := d.store.GetMap(ctx, d.departmentsMap)
	if err != nil {
		return 0, err
	}
	d.departments = departments

	persons, err := d.Persons(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, dep := range Departments() {
		if err := departments.Set(ctx, dep.ID, dep.Document()); err != nil {
			return written, &PartialLoadError{Written: written, Key: dep.ID, Err: err}
		}
		written++
	}
	for id, p := range Persons() {
		if err := persons.Set(ctx, id, p.Document()); err != nil {
			return written, &PartialLoadError{Written: written, Key: id, Err: err}
		}
		written++
	}

	lp.LogDatasetEvent(d.personsMap, fmt.Sprintf("populated person directory with %d entries", written), log.InfoLevel)

	return written, nil

}

func (d *PersonDirectory) Destroy(ctx context.Context) error {

	var firstErr error
	for _, m := range []grid.Map{d.persons, d.departments} {
		if m == nil {
			continue
		}
		if err := m.Destroy(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.persons, d.departments = nil, nil

	return firstErr

}
