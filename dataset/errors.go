package dataset

import "fmt"

// DecodeError is returned when a file in a domain directory is not a readable image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decoding %s: %v", e.Path, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// EmptyDatasetError is returned when a domain directory holds no images.
type EmptyDatasetError struct {
	Dir string
}

func (e *EmptyDatasetError) Error() string { return fmt.Sprintf("no images in %s", e.Dir) }
