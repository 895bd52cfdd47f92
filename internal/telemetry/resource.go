package telemetry

import "fmt"

// Component is the kind of inventory resource a reading is attached to
type Component int

const (
	ComponentNone Component = iota
	ComponentProcessor
	ComponentMemory
	ComponentSystem
	ComponentChassis
	ComponentThermalZone
	ComponentPowerZone
	ComponentManager
)

var componentNames = map[Component]string{
	ComponentNone:        "None",
	ComponentProcessor:   "Processor",
	ComponentMemory:      "Memory",
	ComponentSystem:      "System",
	ComponentChassis:     "Chassis",
	ComponentThermalZone: "ThermalZone",
	ComponentPowerZone:   "PowerZone",
	ComponentManager:     "Manager",
}

func (c Component) String() string {
	if name, ok := componentNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Component(%d)", int(c))
}

// ResourceInstance identifies the component a reader reports for.
// It is comparable and used as a map key.
type ResourceInstance struct {
	Component Component
	Index     int
	Indexed   bool
}

// Resource returns a resource without an instance index
func Resource(c Component) ResourceInstance {
	return ResourceInstance{Component: c}
}

// IndexedResource returns the index-th resource of a component kind
func IndexedResource(c Component, index int) ResourceInstance {
	return ResourceInstance{Component: c, Index: index, Indexed: true}
}

func (r ResourceInstance) String() string {
	if r.Indexed {
		return fmt.Sprintf("%s[%d]", r.Component, r.Index)
	}
	return r.Component.String()
}
