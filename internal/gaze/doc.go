// Package gaze drives gaze motion over the tracked targets.
//
// Controller is the engine entry point. It owns a tracking.Registry, the
// fixation/saccade/pursuit state machine and the event Bus, and advances
// everything once per Tick. Saccades are planned on the main sequence and
// interpolated across ticks with a normalised sigmoid; they cannot be
// interrupted once started.
package gaze
