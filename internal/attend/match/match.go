// Package match defines the identity-matching capability consumed by the
// face tracking loop.  The matching algorithm itself (feature extraction,
// template comparison, enrollment) is an external collaborator; this
// package only fixes its contract.
package match

import "image"

// Result is one detected face in a frame.  StudentID is empty when no
// enrolled identity exceeded the matching threshold; Box is the face
// location in the (downscaled) image handed to Match.
type Result struct {
	StudentID string
	Box       image.Rectangle
}

// Matcher runs identity matching on a single frame region.  An error is
// treated by the caller as "no match for this frame", never as fatal.
type Matcher interface {
	Match(img image.Image) ([]Result, error)
}

// Func adapts a plain function to the Matcher interface.
type Func func(img image.Image) ([]Result, error)

func (f Func) Match(img image.Image) ([]Result, error) { return f(img) }

// Disabled is a Matcher that never matches.  Wired by default until an
// external recognizer is attached.
var Disabled = Func(func(image.Image) ([]Result, error) { return nil, nil })
