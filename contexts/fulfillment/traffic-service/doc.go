// Package trafficservice converts ordered quantities into required traffic
// using per-service conversion coefficients, distributes offers across fixed
// campaign endpoints, and aggregates delivery statistics from the traffic
// broker.
package trafficservice
