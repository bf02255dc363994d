package models

/**
Process exit codes shared by every layer of the tree. Values other than
these are reserved.
*/
const (
	EXIT_SUCCESS    = 0
	EXIT_FAILURE    = 1
	EXIT_NO_PARENT  = 2
	EXIT_SPEC_ERROR = 3
)
