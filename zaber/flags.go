package zaber

// rejectReasons maps the data field of an RJ reply to its meaning.
var rejectReasons = map[string]string{
	"BADDATA":      "improperly formatted or invalid data",
	"AGAIN":        "the command cannot be processed right now and should be sent again",
	"BADAXIS":      "the axis number is greater than the number of axes available",
	"BADCOMMAND":   "the command or setting is incorrect or invalid",
	"BADMESSAGEID": "the message id is not -- or a number from 0 to 99",
	"DEVICEONLY":   "an axis number was given for a device-only command",
	"FULL":         "the device has run out of permanent storage",
	"LOCKSTEP":     "the axis is part of a lockstep group and cannot be moved directly",
	"NOACCESS":     "the command or setting is not available at the current access level",
	"PARKED":       "the device cannot move because it is parked",
	"STATUSBUSY":   "the device is busy and cannot process the command",
}

// warningText maps warning flags to their meaning.
var warningText = map[WarningFlag]string{
	NoWarning:       "no warning",
	WarnNoReference: "no reference position",
	"FD":            "the driver has disabled itself due to overheating",
	"FQ":            "the encoder-measured position may be unreliable",
	"FS":            "stalling was detected and the axis has stopped itself",
	"FT":            "the lockstep group has exceeded allowable twist and has stopped",
	"FB":            "a previous streamed motion failed a precondition",
	"FP":            "streamed motion was terminated because an axis slipped",
	"FE":            "the target limit sensor cannot be reached or is faulty",
	"WH":            "the device has a position reference but has not been homed",
	"WL":            "a movement was interrupted by a triggered limit sensor",
	"WP":            "the saved calibration data is unsupported by the peripheral",
	"WV":            "the supply voltage is outside the recommended operating range",
	"WT":            "the internal controller temperature has exceeded its limit",
	"WM":            "while not in motion, the axis has been forced out of position",
	"NC":            "the axis is busy due to manual control via the knob",
	"NI":            "a movement was requested while executing another movement",
	"ND":            "the device slowed down because it ran out of queued motions",
	"NU":            "a setting update or reset is pending",
	"NJ":            "joystick calibration is in progress",
}

// RejectReason returns a human-readable description of the reject reason
// carried in the data field of an RJ reply. Unknown reasons are returned
// verbatim.
func RejectReason(data string) string {
	if text, ok := rejectReasons[data]; ok {
		return text
	}
	return data
}

// Text returns a human-readable description of the warning flag.
func (w WarningFlag) Text() string {
	if text, ok := warningText[w]; ok {
		return text
	}
	return string(w)
}
