package drive

// Simulator is an in-memory Drive advanced by polling. Each HLFBAsserted or
// StepsComplete call counts as one tick of simulated time.
type Simulator struct {
	// HomingTicks is the number of HLFB polls after enable before feedback asserts.
	HomingTicks int
	// MoveTicks is the number of StepsComplete polls a move takes.
	MoveTicks int
	// StickyFault keeps alerts latched through ClearAlerts.
	StickyFault bool

	enabled     bool
	sinceEnable int
	alerts      bool
	motorFault  bool
	velMax      int
	accelMax    int

	position  int32
	start     int32
	target    int32
	moving    bool
	moveTicks int

	EnableHistory []bool
	Moves         []int32
	Clears        int
}

func NewSimulator() *Simulator {
	return &Simulator{HomingTicks: 2, MoveTicks: 3}
}

func (s *Simulator) EnableRequest(enable bool) {
	s.EnableHistory = append(s.EnableHistory, enable)
	if enable && !s.enabled {
		s.sinceEnable = 0
		if s.motorFault && !s.StickyFault {
			s.motorFault = false
		}
	}
	if !enable {
		s.moving = false
	}
	s.enabled = enable
}

func (s *Simulator) Enabled() bool { return s.enabled }

func (s *Simulator) HLFBAsserted() bool {
	if !s.enabled || s.alerts || s.moving {
		return false
	}
	if s.sinceEnable < s.HomingTicks {
		s.sinceEnable++
		return false
	}
	return true
}

func (s *Simulator) AlertsPresent() bool { return s.alerts }

func (s *Simulator) MotorFaulted() bool { return s.motorFault }

func (s *Simulator) ClearAlerts() {
	s.Clears++
	if s.StickyFault || s.motorFault {
		return
	}
	s.alerts = false
}

func (s *Simulator) SetVelMax(pulsesPerSec int) { s.velMax = pulsesPerSec }
func (s *Simulator) SetAccelMax(pulsesPerSec2 int) { s.accelMax = pulsesPerSec2 }

func (s *Simulator) VelMax() int { return s.velMax }
func (s *Simulator) AccelMax() int { return s.accelMax }

func (s *Simulator) MoveAbsolute(position int32) {
	s.Moves = append(s.Moves, position)
	if !s.enabled || s.alerts {
		return
	}
	s.start = s.position
	s.target = position
	s.moving = true
	s.moveTicks = 0
}

func (s *Simulator) StepsComplete() bool {
	if !s.moving {
		return true
	}
	s.moveTicks++
	if s.moveTicks >= s.MoveTicks {
		s.position = s.target
		s.moving = false
		return true
	}
	s.position = s.start + (s.target-s.start)*int32(s.moveTicks)/int32(s.MoveTicks)
	return false
}

func (s *Simulator) PositionRefSet(position int32) {
	s.position = position
	s.target = position
}

func (s *Simulator) Position() int32 { return s.position }

// InjectFault latches an alert. A motor fault additionally requires an enable
// cycle before ClearAlerts takes effect.
func (s *Simulator) InjectFault(motorFault bool) {
	s.alerts = true
	s.motorFault = motorFault
	s.moving = false
}
