package raster

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// MissingValueError reports that a stage produced an output band with no
// valid pixel at all. Individual missing pixels are carried as NaN and never
// raise this error.
type MissingValueError struct {
	Band  string
	Stage string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("%s: band %q has no valid pixels", e.Stage, e.Band)
}

// RequireValid returns a MissingValueError when band name of r is entirely NaN.
func RequireValid(r *Raster, name, stage string) error {
	n, err := r.ValidCount(name)
	if err != nil {
		return eris.Wrap(err, stage)
	}
	if n == 0 {
		return &MissingValueError{Band: name, Stage: stage}
	}
	return nil
}
