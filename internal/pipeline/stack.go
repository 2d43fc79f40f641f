package pipeline

import (
	"fmt"
)

// Slot is a named insertion point. Slots run in declaration order.
type Slot int

const (
	SlotBefore Slot = iota
	SlotCompression
	SlotHeaders
	SlotProxy
	SlotBuild
	SlotStatic
	SlotHTMLFallback
	SlotHistoryFallback
	SlotFavicon
	SlotAfter

	slotCount
)

var slotNames = [slotCount]string{
	"before",
	"compression",
	"headers",
	"proxy",
	"build",
	"static",
	"htmlFallback",
	"historyFallback",
	"favicon",
	"after",
}

func (s Slot) String() string {
	if s < 0 || s >= slotCount {
		return fmt.Sprintf("Slot(%d)", int(s))
	}
	return slotNames[s]
}

// Stage is a handler placed in a slot
type Stage struct {
	Slot    Slot
	Name    string
	Handler Handler
}

// Stack is an ordered builder with one bucket per slot. Within a slot
// stages keep insertion order.
type Stack struct {
	slots [slotCount][]Stage
}

// Add appends h to slot
func (s *Stack) Add(slot Slot, name string, h Handler) {
	if slot < 0 || slot >= slotCount {
		panic(fmt.Sprintf("pipeline: unknown slot %d", int(slot)))
	}
	s.slots[slot] = append(s.slots[slot], Stage{Slot: slot, Name: name, Handler: h})
}

// Stages flattens the stack in slot order
func (s *Stack) Stages() []Stage {
	var out []Stage
	for _, bucket := range s.slots {
		out = append(out, bucket...)
	}
	return out
}

// Slot returns the stages in one slot
func (s *Stack) Slot(slot Slot) []Stage {
	return append([]Stage(nil), s.slots[slot]...)
}

// Len returns the number of stages
func (s *Stack) Len() int {
	n := 0
	for _, bucket := range s.slots {
		n += len(bucket)
	}
	return n
}
