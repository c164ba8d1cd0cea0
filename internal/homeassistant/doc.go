// Package homeassistant publishes Ai-Link water heaters to Home Assistant
// through MQTT discovery.
//
// Each heater becomes one HA device with:
//   - a water_heater entity (modes off/gas, target temperature 35-70 °C)
//   - a sensor per read-only telemetry field
//   - switches for boost, cruise and eco half-tank
//   - a number for the cruise timer
//   - optional diagnostic raw sensors for unmapped outputData keys
//
// Every entity reads the retained snapshot on ailink/<id>/state and is
// available only while both ailink/bridge/status and
// ailink/<id>/availability say "online". Commands arrive on
// ailink/<id>/<field>/set and are passed to the gateway.
package homeassistant
