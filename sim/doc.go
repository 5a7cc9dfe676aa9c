// Package sim emulates a Zaber ASCII stage controller behind the
// stage.Transport contract, so the motion controller runs unmodified
// against hardware that does not exist.
//
// Emulated devices are keyed by stage index and survive disconnects: a
// device homed in one session still reports its home reference when the
// same index reconnects, matching how real controllers retain their
// reference while powered. Motion is interpolated at a configurable speed
// so position queries issued mid-move return plausible intermediate
// values.
package sim
