package fetch

import "fmt"

// TransferError reports a failed download of a source file.
type TransferError struct {
	Locator    string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transfer of %s failed: unexpected status %d", e.Locator, e.StatusCode)
	}
	return fmt.Sprintf("transfer of %s failed: %v", e.Locator, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
