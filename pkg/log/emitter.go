package log

import "time"

// Emitter stamps events with a fixed role, vehicle and connection before
// handing them to a Logger. A nil Emitter or nil Logger drops events.
type Emitter struct {
	Logger       Logger
	Role         Role
	VehicleID    string
	ConnectionID string
	RemoteAddr   string
}

// WithConnection returns a copy bound to a connection.
func (e *Emitter) WithConnection(connID, remote string) *Emitter {
	if e == nil {
		return nil
	}
	cp := *e
	cp.ConnectionID = connID
	cp.RemoteAddr = remote
	return &cp
}

func (e *Emitter) emit(ev Event) {
	if e == nil || e.Logger == nil {
		return
	}
	ev.Timestamp = time.Now()
	ev.LocalRole = e.Role
	ev.VehicleID = e.VehicleID
	ev.ConnectionID = e.ConnectionID
	ev.RemoteAddr = e.RemoteAddr
	e.Logger.Log(ev)
}

// Command records a command token sent or received.
func (e *Emitter) Command(dir Direction, token, payload string, known bool) {
	e.emit(Event{
		Direction: dir,
		Layer:     LayerCommand,
		Category:  CategoryMessage,
		Command:   &CommandEvent{Token: token, Payload: payload, Known: known},
	})
}

// State records a state transition.
func (e *Emitter) State(layer Layer, entity StateEntity, oldState, newState, reason string) {
	e.emit(Event{
		Direction: DirectionNone,
		Layer:     layer,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Ranging records a ranging attempt.
func (e *Emitter) Ranging(r RangingEvent) {
	e.emit(Event{
		Direction: DirectionNone,
		Layer:     LayerRanging,
		Category:  CategoryMeasurement,
		Ranging:   &r,
	})
}

// Error records an error.
func (e *Emitter) Error(layer Layer, err error, context string) {
	if err == nil {
		return
	}
	e.emit(Event{
		Direction: DirectionNone,
		Layer:     layer,
		Category:  CategoryError,
		Error:     &ErrorEventData{Layer: layer, Message: err.Error(), Context: context},
	})
}

// Frame records a raw link frame, truncating data over MaxFrameData.
func (e *Emitter) Frame(dir Direction, data []byte) {
	fe := &FrameEvent{Size: len(data), Data: data}
	if len(data) > MaxFrameData {
		fe.Data = data[:MaxFrameData]
		fe.Truncated = true
	}
	e.emit(Event{
		Direction: dir,
		Layer:     LayerLink,
		Category:  CategoryMessage,
		Frame:     fe,
	})
}

// MaxFrameData is the largest frame payload copied into a FrameEvent.
const MaxFrameData = 1024
