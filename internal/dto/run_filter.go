// RunFilter describes user-provided filters to narrow the run history.
package dto

type RunFilter struct {
	Session string
	Status  string
	Limit   int
	Offset  int
}
