package sleep

// AlwaysRecord keeps recording through sleep and inactivity
type AlwaysRecord struct{}

func (AlwaysRecord) Pause()  {}
func (AlwaysRecord) Resume() {}

// Controlled pauses on sleep or inactivity and resumes on wake or activity
type Controlled struct {
	machine *Machine
}

func NewControlled(m *Machine) *Controlled {
	return &Controlled{machine: m}
}

func (c *Controlled) Pause()  { c.machine.transition(Paused) }
func (c *Controlled) Resume() { c.machine.transition(Active) }

// StrategyFor maps the trackOnPcSleep setting to a strategy
func StrategyFor(m *Machine, trackOnPcSleep bool) Strategy {
	if trackOnPcSleep {
		return AlwaysRecord{}
	}
	return NewControlled(m)
}
