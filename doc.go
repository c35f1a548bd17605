// Package rcteleop is a teleoperation console for camera-equipped RC
// vehicles.
//
// The console drives the vehicle with hold-to-move controls, mirrors the
// vehicle's manual and autonomous switches, overlays object detections on
// the live view and turns free-text tasks into a detection target using an
// LLM.
//
// # Installation
//
//	go install github.com/gwillem/rcteleop/cmd/rcteleop@latest
//
// Camera capture for the push command needs OpenCV:
//
//	go install -tags gocv github.com/gwillem/rcteleop/cmd/rcteleop@latest
//
// # Usage
//
// Write a configuration file first:
//
//	rcteleop setup
//
// Then open the console:
//
//	rcteleop console
//
// Without a vehicle at hand, run the reference vehicle with synthetic
// detections in a second terminal:
//
//	rcteleop vehicle --demo
//
// # Packages
//
//   - cmd/rcteleop: CLI with console, setup, vehicle, listen, send and push commands
//   - pkg/rover: Commands, modes, detections and configuration
//   - pkg/command: Command channel over the HTTP relay and UDP broadcast
//   - pkg/mode: Mode arbiter that mirrors the vehicle's confirmed mode
//   - pkg/telemetry: Transcript and detection feeds with reconnect
//   - pkg/overlay: Letterbox mapping from detector space to the display
//   - pkg/task: Free-text task to detection target translation
//   - pkg/teleop: Session wiring the above together
//   - pkg/video: Frame sources and the detector frame pusher
//   - pkg/vehicle: Reference vehicle server and motor drivers
package rcteleop
