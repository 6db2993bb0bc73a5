// Package mqttbridge republishes Elmax panel snapshots to an MQTT broker.
//
// A Bridge is an elmax.PushHandler: register it on a push handler and every
// snapshot is published as one retained JSON message per endpoint.
//
// Topic layout:
//
//	{prefix}/{panel}/{kind}/{endpoint}   endpoint state (zone, area, actuator, cover, group, scene)
//	{prefix}/{panel}/panel               panel feature flags and release
//	{prefix}/bridge/status               online/offline (last will)
package mqttbridge
