package grid

import "testing"

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

func TestFilter_Matches(t *testing.T) {

	f := Filter{
		{{Field: "age", Op: OpEqual, Value: 25}, {Field: "active", Op: OpEqual, Value: true}},
		{{Field: "age", Op: OpLess, Value: 20}, {Field: "departmentId", Op: OpEqual, Value: "D3"}},
	}

	t.Log("given a filter made of two conjunctions")
	{
		t.Log("\twhen document satisfies the first conjunction with json-decoded numbers")
		{
			d := Document{"name": "Bob", "age": float64(25), "active": true}

			msg := "\t\tdocument must match"
			if f.Matches(d) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen document satisfies the second conjunction")
		{
			d := Document{"age": 17, "departmentId": "D3", "active": false}

			msg := "\t\tdocument must match"
			if f.Matches(d) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen document satisfies only part of each conjunction")
		{
			d := Document{"age": 25, "active": false, "departmentId": "D1"}

			msg := "\t\tdocument must not match"
			if !f.Matches(d) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen condition and document both hold json arrays")
		{
			tags := Filter{{{Field: "tags", Op: OpEqual, Value: []any{"D3", "remote"}}}}

			msg := "\t\tequal arrays must match and different ones must not"
			if tags.Matches(Document{"tags": []any{"D3", "remote"}}) && !tags.Matches(Document{"tags": []any{"D1"}}) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen document lacks a referenced field")
		{
			d := Document{"age": 25}

			msg := "\t\tdocument must not match"
			if !f.Matches(d) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}

func TestQuorumKind_Guards(t *testing.T) {

	t.Log("given the quorum kinds")
	{
		t.Log("\twhen write protection is asked about reads and writes")
		{
			msg := "\t\tonly writes must be guarded"
			if QuorumWrite.Guards(true) && !QuorumWrite.Guards(false) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen read-write protection is asked about reads and writes")
		{
			msg := "\t\tboth must be guarded"
			if QuorumReadWrite.Guards(true) && QuorumReadWrite.Guards(false) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}
