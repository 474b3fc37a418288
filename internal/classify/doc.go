// Package classify assigns view labels to fluoroscopic frames by correlating
// them against a directory of reference templates. A frame is accepted only
// when the best template clears the score threshold and beats the runner-up
// by a configurable margin; anything less routes the case to review.
package classify
