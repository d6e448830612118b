package transform

import "fmt"

// FormatError reports a file that could not be read as parquet.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cannot read %s as parquet: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
