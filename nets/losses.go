package nets

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// MSE is the least squares adversarial objective: the mean of (pred - target)² over
// every score of the patch map.
func MSE(pred *G.Node, target float32) (retVal *G.Node, err error) {
	diff := pred
	if target != 0 {
		if diff, err = G.Sub(pred, G.NewConstant(target)); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	var sq *G.Node
	if sq, err = G.Square(diff); err != nil {
		return nil, errors.WithStack(err)
	}
	if retVal, err = G.Mean(sq); err != nil {
		return nil, errors.WithStack(err)
	}
	return retVal, nil
}

// L1 is the mean absolute difference of a and b.
func L1(a, b *G.Node) (retVal *G.Node, err error) {
	var diff *G.Node
	if diff, err = G.Sub(a, b); err != nil {
		return nil, errors.WithStack(err)
	}
	if diff, err = G.Abs(diff); err != nil {
		return nil, errors.WithStack(err)
	}
	if retVal, err = G.Mean(diff); err != nil {
		return nil, errors.WithStack(err)
	}
	return retVal, nil
}
