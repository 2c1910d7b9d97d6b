// Package gate bounds how many jobs of a resource-heavy queue family may
// execute at once within a single process.
package gate
