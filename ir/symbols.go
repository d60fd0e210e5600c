package ir

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// SymbolsMagic identifies a debug symbol side-file.
var SymbolsMagic = [4]byte{'L', 'S', 'Y', 'M'}

// ErrSymbolsMismatch is returned when a side-file belongs to another module.
var ErrSymbolsMismatch = errors.New("symbols do not match module")

type symbolsDTO struct {
	MVID    []byte              `cbor:"1,keyasint"`
	Methods []*methodSymbolsDTO `cbor:"2,keyasint,omitempty"`
}

type methodSymbolsDTO struct {
	Method string      `cbor:"1,keyasint"`
	Points []*pointDTO `cbor:"2,keyasint"`
}

type pointDTO struct {
	Index    int    `cbor:"1,keyasint"`
	Document string `cbor:"2,keyasint,omitempty"`
	Line     int    `cbor:"3,keyasint,omitempty"`
}

// EncodeSymbols serializes the sequence points of every method body.
func (m *Module) EncodeSymbols() ([]byte, error) {
	dto := &symbolsDTO{MVID: m.MVID[:]}
	for _, t := range m.Types {
		for _, meth := range t.Methods {
			if meth.Body == nil {
				continue
			}
			var points []*pointDTO
			for i, ins := range meth.Body.Instructions {
				if ins.Point != nil {
					points = append(points, &pointDTO{Index: i, Document: ins.Point.Document, Line: ins.Point.Line})
				}
			}
			if len(points) > 0 {
				dto.Methods = append(dto.Methods, &methodSymbolsDTO{Method: meth.FullName(), Points: points})
			}
		}
	}
	payload, err := cborEncMode.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("ir: marshal symbols %s: %w", m.Name, err)
	}
	return append(SymbolsMagic[:len(SymbolsMagic):len(SymbolsMagic)], payload...), nil
}

// DecodeSymbols attaches the sequence points in data to the module's
// instructions. Points for methods that no longer exist are ignored.
func (m *Module) DecodeSymbols(data []byte) error {
	if len(data) < len(SymbolsMagic) || !bytes.Equal(data[:4], SymbolsMagic[:]) {
		return fmt.Errorf("%w: expected LSYM header", ErrCorruptData)
	}
	var dto symbolsDTO
	if err := cbor.Unmarshal(data[4:], &dto); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptData, err)
	}
	mvid, err := uuid.FromBytes(dto.MVID)
	if err != nil || mvid != m.MVID {
		return ErrSymbolsMismatch
	}
	methods := make(map[string]*MethodDef)
	for _, t := range m.Types {
		for _, meth := range t.Methods {
			if meth.Body != nil {
				methods[meth.FullName()] = meth
			}
		}
	}
	for _, ms := range dto.Methods {
		meth, ok := methods[ms.Method]
		if !ok {
			continue
		}
		for _, p := range ms.Points {
			if p.Index < 0 || p.Index >= len(meth.Body.Instructions) {
				return fmt.Errorf("%w: sequence point %d out of range in %s", ErrCorruptData, p.Index, ms.Method)
			}
			meth.Body.Instructions[p.Index].Point = &SequencePoint{Document: p.Document, Line: p.Line}
		}
	}
	return nil
}
