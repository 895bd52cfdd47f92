package platform

import (
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
)

// Telemetry hub metric ids
const (
	HubCPU0AverageFrequency uint16 = 0x0100
	HubCPU1AverageFrequency uint16 = 0x0101
	HubCPU0ConsumedPower    uint16 = 0x0200
	HubCPU1ConsumedPower    uint16 = 0x0201
	HubACPower              uint16 = 0x0300
	HubDCPower              uint16 = 0x0301
	HubCPU0DRAMPower        uint16 = 0x0400
	HubCPU1DRAMPower        uint16 = 0x0401
)

// Repository sensors
const (
	SensorInletTemperature  uint8 = 0x9C
	SensorOutletTemperature uint8 = 0x9D
	SensorInputACPower      uint8 = 0x32
	SensorCPU0Temperature   uint8 = 0x01
	SensorCPU1Temperature   uint8 = 0x02
	SensorDIMMTemperature   uint8 = 0x5A
)

// Entity ids
const (
	EntityProcessor    uint8 = 0x03
	EntitySystemBoard  uint8 = 0x07
	EntityPowerSupply  uint8 = 0x14
	EntityMemoryDevice uint8 = 0x20
)

func hub(id uint16, conversion telemetry.Conversion) telemetry.HubMetric {
	return telemetry.HubMetric{ID: command.MetricID{ID: id}, Conversion: conversion}
}

func healthDefinition(name, path string) *telemetry.MetricDefinition {
	return &telemetry.MetricDefinition{
		Name:       name,
		Path:       path,
		MetricType: telemetry.MetricDiscrete,
	}
}

// Purley returns the readers of Intel Purley sleds
func Purley() []telemetry.Reader {
	inletTemperature := &telemetry.MetricDefinition{
		Name:            "sledInletTemperature",
		Path:            "/ReadingCelsius",
		Units:           "Celsius",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "Intake",
		SensorType:      "Temperature",
		IsLinear:        true,
	}
	outletTemperature := &telemetry.MetricDefinition{
		Name:            "sledOutletTemperature",
		Path:            "/ReadingCelsius",
		Units:           "Celsius",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "Exhaust",
		SensorType:      "Temperature",
		IsLinear:        true,
	}
	inputACPower := &telemetry.MetricDefinition{
		Name:            "sledInputACPower",
		Path:            "/PowerConsumedWatts",
		Units:           "Watts",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "PowerSupply",
		SensorType:      "Power",
		IsLinear:        true,
	}
	averageFrequency := &telemetry.MetricDefinition{
		Name:            "processorAverageFrequency",
		Path:            "/AverageFrequencyMHz",
		Units:           "MHz",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "CPU",
		SensorType:      "Frequency",
		IsLinear:        true,
	}
	processorPower := &telemetry.MetricDefinition{
		Name:            "processorConsumedPower",
		Path:            "/ConsumedPowerWatt",
		Units:           "Watts",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "CPU",
		SensorType:      "Power",
		IsLinear:        true,
	}
	systemPower := &telemetry.MetricDefinition{
		Name:            "systemConsumedPower",
		Path:            "/ProcessorPowerWatt",
		Units:           "Watts",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "CPU",
		SensorType:      "Power",
		IsLinear:        true,
	}
	memoryPower := &telemetry.MetricDefinition{
		Name:            "memoryConsumedPower",
		Path:            "/MemoryPowerWatt",
		Units:           "Watts",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "Memory",
		SensorType:      "Power",
		IsLinear:        true,
	}
	chassisACPower := &telemetry.MetricDefinition{
		Name:            "chassisInputACPower",
		Path:            "/ACPowerWatt",
		Units:           "Watts",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "PowerSupply",
		SensorType:      "Power",
		IsLinear:        true,
	}
	chassisDCPower := &telemetry.MetricDefinition{
		Name:            "chassisOutputDCPower",
		Path:            "/DCPowerWatt",
		Units:           "Watts",
		MetricType:      telemetry.MetricNumeric,
		PhysicalContext: "PowerSupply",
		SensorType:      "Power",
		IsLinear:        true,
	}
	processorBandwidth := &telemetry.MetricDefinition{
		Name:       "systemProcessorBandwidth",
		Path:       "/ProcessorBandwidthPercent",
		MetricType: telemetry.MetricNumeric,
		IsLinear:   true,
	}
	memoryBandwidth := &telemetry.MetricDefinition{
		Name:       "systemMemoryBandwidth",
		Path:       "/MemoryBandwidthPercent",
		MetricType: telemetry.MetricNumeric,
		IsLinear:   true,
	}
	ioBandwidth := &telemetry.MetricDefinition{
		Name:       "systemIOBandwidth",
		Path:       "/IOBandwidthGBps",
		Units:      "GBps",
		MetricType: telemetry.MetricNumeric,
		IsLinear:   true,
	}
	processorHealth := healthDefinition("processorHealth", "/Oem/Intel_RackScale/Health")
	memoryHealth := healthDefinition("memoryHealth", "/Oem/Intel_RackScale/Health")
	systemHealth := healthDefinition("systemHealth", "/Health")

	thermalZone := telemetry.Resource(telemetry.ComponentThermalZone)
	powerZone := telemetry.Resource(telemetry.ComponentPowerZone)
	system := telemetry.Resource(telemetry.ComponentSystem)
	chassis := telemetry.Resource(telemetry.ComponentChassis)
	cpu0 := telemetry.IndexedResource(telemetry.ComponentProcessor, 0)
	cpu1 := telemetry.IndexedResource(telemetry.ComponentProcessor, 1)
	memory := telemetry.IndexedResource(telemetry.ComponentMemory, 0)

	return []telemetry.Reader{
		telemetry.NewSensorReader(thermalZone, inletTemperature, SensorInletTemperature, EntitySystemBoard, 0),
		telemetry.NewSensorReader(thermalZone, outletTemperature, SensorOutletTemperature, EntitySystemBoard, 0),
		telemetry.NewSensorReader(powerZone, inputACPower, SensorInputACPower, EntityPowerSupply, 1),

		telemetry.NewHubReader(cpu0, averageFrequency, hub(HubCPU0AverageFrequency, telemetry.ConversionNone)),
		telemetry.NewHubReader(cpu1, averageFrequency, hub(HubCPU1AverageFrequency, telemetry.ConversionNone)),
		telemetry.NewHubReader(cpu0, processorPower, hub(HubCPU0ConsumedPower, telemetry.ConversionWatts)),
		telemetry.NewHubReader(cpu1, processorPower, hub(HubCPU1ConsumedPower, telemetry.ConversionWatts)),
		telemetry.NewHubReader(chassis, chassisACPower, hub(HubACPower, telemetry.ConversionWatts)),
		telemetry.NewHubReader(chassis, chassisDCPower, hub(HubDCPower, telemetry.ConversionWatts)),
		telemetry.NewHubAggregatedReader(system, systemPower, telemetry.AggregateSum,
			hub(HubCPU0ConsumedPower, telemetry.ConversionWatts),
			hub(HubCPU1ConsumedPower, telemetry.ConversionWatts)),
		telemetry.NewHubAggregatedReader(system, memoryPower, telemetry.AggregateSum,
			hub(HubCPU0DRAMPower, telemetry.ConversionWatts),
			hub(HubCPU1DRAMPower, telemetry.ConversionWatts)),

		telemetry.NewBandwidthReader(system, processorBandwidth, telemetry.BandwidthProcessor),
		telemetry.NewBandwidthReader(system, memoryBandwidth, telemetry.BandwidthMemory),
		telemetry.NewBandwidthReader(system, ioBandwidth, telemetry.BandwidthIO),

		telemetry.NewThresholdHealthReader(cpu0, processorHealth, telemetry.FillMetric,
			SensorCPU0Temperature, EntityProcessor, 0),
		telemetry.NewThresholdHealthReader(cpu1, processorHealth, telemetry.FillMetric,
			SensorCPU1Temperature, EntityProcessor, 1),
		telemetry.NewThresholdHealthReader(memory, memoryHealth, telemetry.FillMetric,
			SensorDIMMTemperature, EntityMemoryDevice, 0),
		telemetry.NewThresholdHealthReader(system, systemHealth, telemetry.FillMetric,
			SensorInletTemperature, EntitySystemBoard, 0),
	}
}
