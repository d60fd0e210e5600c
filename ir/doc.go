// Package ir implements the loom module format.
//
// This package contains:
//   - Module, type, method and body definitions
//   - Type, method and field references, including generic instances
//   - The instruction set and its disassembler
//   - Image and debug symbol encoding (CBOR)
//   - The built-in core library module and the woven stamp
package ir
