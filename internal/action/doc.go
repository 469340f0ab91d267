// Package action defines the Instruction type shared by the arbitration
// router and the action dispatcher.
//
// An Instruction is a self-contained request for one side effect: the
// action identifier plus every parameter the handler needs. The resource
// it occupies (its Target) is derived from those two fields alone, so the
// dispatcher never consults hidden context to decide which lane it runs in.
//
// Priorities follow a fixed ladder:
//
//	Voice    100  spoken commands and their replies
//	Alarm     90  alarm start/stop and the wake routine
//	Manual    80  scenes chosen from a panel or app
//	Vision    40  posture-derived automation
//	Presence  30  motion/vacancy automation
//	System    20  housekeeping
//	Ambient   10  background adjustments
//
// Anything below Manual counts as automatic and is suppressed while a
// manual override holds the same target.
package action
