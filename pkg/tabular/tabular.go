// Package tabular carries module-level metadata shared by the CLI and
// library consumers.
package tabular

// Version is the released version of the tabular module.
const Version = "0.1.0"
