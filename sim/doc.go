// Package sim provides simulated collaborators for the compositor: a
// hardware vsync feed, a head-tracking sensor, GPU fences, a recording
// renderer and a render-thread application loop.
//
// They run on real time and exercise the same code paths as hardware, so
// warpd can be demonstrated and integration-tested on any machine.
package sim
