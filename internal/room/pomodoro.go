package room

const (
	WorkSeconds  = 25 * 60
	BreakSeconds = 5 * 60
)

// Pomodoro is the client-local study timer. Time counts down in seconds while Active.
type Pomodoro struct {
	Active bool
	Time   int
	Break  bool
}

func phaseLength(isBreak bool) int {
	if isBreak {
		return BreakSeconds
	}
	return WorkSeconds
}

// Tick advances the timer by one second.
//
// When the phase runs out the timer flips to the other phase, loads its full length and stops;
// finished reports that transition so the caller can chime.
func (p Pomodoro) Tick() (next Pomodoro, finished bool) {
	if !p.Active {
		return p, false
	}
	p.Time--
	if p.Time > 0 {
		return p, false
	}
	p.Break = !p.Break
	p.Time = phaseLength(p.Break)
	p.Active = false
	return p, true
}

// Start resumes the timer, loading the phase length when nothing is left.
func (p Pomodoro) Start() Pomodoro {
	if p.Time <= 0 {
		p.Time = phaseLength(p.Break)
	}
	p.Active = true
	return p
}

// Pause stops the countdown without changing the remaining time.
func (p Pomodoro) Pause() Pomodoro {
	p.Active = false
	return p
}

// Reset stops the timer and reloads the current phase.
func (p Pomodoro) Reset() Pomodoro {
	return Pomodoro{Break: p.Break, Time: phaseLength(p.Break)}
}
