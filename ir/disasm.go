package ir

import (
	"fmt"
	"strings"
)

// DisassembleInstruction renders the instruction at position pos of body.
func DisassembleInstruction(b *Body, pos int) string {
	ins := b.Instructions[pos]
	info := ins.Op.Info()
	var line string
	switch v := ins.Operand.(type) {
	case nil:
		line = fmt.Sprintf("%04d  %s", pos, info.Name)
	case int64:
		line = fmt.Sprintf("%04d  %s %d", pos, info.Name, v)
	case float64:
		line = fmt.Sprintf("%04d  %s %g", pos, info.Name, v)
	case string:
		line = fmt.Sprintf("%04d  %s %q", pos, info.Name, v)
	case *Instruction:
		line = fmt.Sprintf("%04d  %s -> %04d", pos, info.Name, b.IndexOf(v))
	case *Variable:
		line = fmt.Sprintf("%04d  %s %d (%s)", pos, info.Name, v.Index, v)
	case *Parameter:
		line = fmt.Sprintf("%04d  %s %d (%s)", pos, info.Name, v.Index, v.Name)
	case *TypeRef:
		line = fmt.Sprintf("%04d  %s %s", pos, info.Name, v.FullName())
	case *MethodRef:
		line = fmt.Sprintf("%04d  %s %s", pos, info.Name, v.FullName())
	case *FieldRef:
		line = fmt.Sprintf("%04d  %s %s", pos, info.Name, v.FullName())
	default:
		line = fmt.Sprintf("%04d  %s <%T>", pos, info.Name, v)
	}
	if ins.Point != nil {
		line += fmt.Sprintf("  // %s:%d", ins.Point.Document, ins.Point.Line)
	}
	return line
}

// Disassemble returns a human-readable listing of a method body.
func Disassemble(b *Body) string {
	var sb strings.Builder
	for i, v := range b.Variables {
		fmt.Fprintf(&sb, ".local %d %s %s\n", i, v, v.Type.FullName())
	}
	for i := range b.Instructions {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(b, i))
	}
	return sb.String()
}

// Dump renders every type and method of a module.
func Dump(m *Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ".module %s {%s}\n", m.Name, m.MVID)
	for _, r := range m.References {
		fmt.Fprintf(&sb, ".ref %s\n", r)
	}
	for _, a := range m.Attributes {
		fmt.Fprintf(&sb, ".attr %s\n", a)
	}
	for _, t := range m.Types {
		fmt.Fprintf(&sb, "\n.type %s", t.FullName())
		if t.BaseType != nil {
			fmt.Fprintf(&sb, " : %s", t.BaseType.FullName())
		}
		for _, i := range t.Interfaces {
			fmt.Fprintf(&sb, ", %s", i.FullName())
		}
		sb.WriteByte('\n')
		for _, f := range t.Fields {
			fmt.Fprintf(&sb, "  .field %s %s\n", f.Type.FullName(), f.Name)
		}
		for _, p := range t.Properties {
			fmt.Fprintf(&sb, "  .property %s %s\n", p.Type.FullName(), p.Name)
		}
		for _, meth := range t.Methods {
			fmt.Fprintf(&sb, "  .method %s\n", meth.FullName())
			if meth.Body == nil {
				continue
			}
			for _, line := range strings.Split(Disassemble(meth.Body), "\n") {
				if line != "" {
					fmt.Fprintf(&sb, "    %s\n", line)
				}
			}
		}
	}
	return sb.String()
}
