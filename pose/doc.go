// Package pose predicts head orientation at an arbitrary future time.
//
// The sensor-fusion subsystem pushes fused samples into a Source (usually a
// Feed). The Predictor extrapolates the newest sample to the requested
// display time; the compositor asks for the instant each eye's pixels light
// up, the render thread asks for the predicted display time of its next
// frame.
//
// Failure semantics: without a sensor Predict returns an identity
// orientation stamped with the requested time and zero status bits. It never
// blocks and never returns an error.
//
// Example:
//
//	feed := pose.NewFeed()
//	pred := pose.NewPredictor(pose.DefaultConfig())
//	pred.AttachSource(feed)
//
//	go sensorLoop(feed) // feed.Push(sample) at >= refresh rate
//
//	state := pred.Predict(displayTime)
//	if !state.Tracking() {
//	    // tracking unavailable, not an error
//	}
package pose
