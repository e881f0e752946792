package ir

import (
	"fmt"
	"strings"
)

// printer renders operations in MLIR generic form. Values are numbered per function:
// entry block arguments are %argN, everything else %N; blocks other than the entry
// block are ^bbN.
type printer struct {
	sb         strings.Builder
	valueNames map[*Value]string
	blockNames map[*Block]string
	nextValue  int
	nextArg    int
}

func newPrinter() *printer {
	return &printer{
		valueNames: make(map[*Value]string),
		blockNames: make(map[*Block]string),
	}
}

func (p *printer) w(indent int, format string, args ...any) {
	p.sb.WriteString(strings.Repeat("  ", indent))
	fmt.Fprintf(&p.sb, format, args...)
}

func (p *printer) printModule(module *Operation) {
	p.w(0, "module")
	if len(module.attrs) > 0 {
		p.w(0, " attributes {%s}", formatNamedAttrs(module.attrs))
	}
	p.w(0, " {\n")
	for _, op := range module.regions[0].Entry().ops {
		if op.name == FuncOpName {
			p.resetNumbering()
			p.numberOp(op)
			p.printFunc(op, 1)
			continue
		}
		p.numberOp(op)
		p.printOp(op, 1)
	}
	p.w(0, "}\n")
}

func (p *printer) resetNumbering() {
	p.nextValue = 0
	p.nextArg = 0
	p.blockNames = make(map[*Block]string)
}

// numberOp assigns names to all values defined by and inside op.
func (p *printer) numberOp(op *Operation) {
	for _, r := range op.results {
		p.nameValue(r)
	}
	for _, r := range op.regions {
		for i, b := range r.blocks {
			if i > 0 || op.name != FuncOpName {
				p.blockNames[b] = fmt.Sprintf("^bb%d", i)
			}
			for _, a := range b.args {
				if i == 0 {
					p.valueNames[a] = fmt.Sprintf("%%%s%d", entryArgumentName, p.nextArg)
					p.nextArg++
				} else {
					p.nameValue(a)
				}
			}
			for _, inner := range b.ops {
				p.numberOp(inner)
			}
		}
	}
}

func (p *printer) nameValue(v *Value) {
	p.valueNames[v] = fmt.Sprintf("%%%d", p.nextValue)
	p.nextValue++
}

func (p *printer) valueName(v *Value) string {
	if name, found := p.valueNames[v]; found {
		return name
	}
	return "%<<UNKNOWN>>"
}

func (p *printer) blockName(b *Block) string {
	if name, found := p.blockNames[b]; found {
		return name
	}
	return "^<<UNKNOWN>>"
}

func (p *printer) printFunc(op *Operation, indent int) {
	f, _ := AsFunc(op)
	ft := f.Type()
	entry := f.Entry()
	p.w(indent, "func.func @%s(", f.Name())
	if entry != nil {
		for i, a := range entry.args {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			fmt.Fprintf(&p.sb, "%s: %s", p.valueName(a), a.typ)
		}
	}
	p.sb.WriteString(")")
	switch len(ft.Results) {
	case 0:
	case 1:
		fmt.Fprintf(&p.sb, " -> %s", ft.Results[0])
	default:
		p.sb.WriteString(" -> (")
		writeTypeList(&p.sb, ft.Results)
		p.sb.WriteString(")")
	}
	var extra []NamedAttr
	for _, na := range op.attrs {
		if na.Name != SymNameAttr && na.Name != FunctionTypeAttr {
			extra = append(extra, na)
		}
	}
	if len(extra) > 0 {
		fmt.Fprintf(&p.sb, " attributes {%s}", formatNamedAttrs(extra))
	}
	if entry == nil {
		p.sb.WriteString("\n")
		return
	}
	p.sb.WriteString(" {\n")
	p.printRegionBody(op.regions[0], indent)
	p.w(indent, "}\n")
}

func (p *printer) printRegionBody(r *Region, indent int) {
	for i, b := range r.blocks {
		if i > 0 || r.parent == nil || r.parent.name != FuncOpName {
			p.w(indent, "%s", p.blockName(b))
			if len(b.args) > 0 {
				p.sb.WriteString("(")
				for j, a := range b.args {
					if j > 0 {
						p.sb.WriteString(", ")
					}
					fmt.Fprintf(&p.sb, "%s: %s", p.valueName(a), a.typ)
				}
				p.sb.WriteString(")")
			}
			p.sb.WriteString(":\n")
		}
		for _, op := range b.ops {
			p.printOp(op, indent+1)
		}
	}
}

func (p *printer) printOp(op *Operation, indent int) {
	if op.name == FuncOpName {
		p.printFunc(op, indent)
		return
	}
	p.w(indent, "")
	if len(op.results) > 0 {
		names := make([]string, len(op.results))
		for i, r := range op.results {
			names[i] = p.valueName(r)
		}
		fmt.Fprintf(&p.sb, "%s = ", strings.Join(names, ", "))
	}
	fmt.Fprintf(&p.sb, "%q(", op.name)
	for i, v := range op.operands {
		if i > 0 {
			p.sb.WriteString(", ")
		}
		p.sb.WriteString(p.valueName(v))
	}
	p.sb.WriteString(")")
	if len(op.successors) > 0 {
		names := make([]string, len(op.successors))
		for i, s := range op.successors {
			names[i] = p.blockName(s)
		}
		fmt.Fprintf(&p.sb, "[%s]", strings.Join(names, ", "))
	}
	if len(op.regions) > 0 {
		p.sb.WriteString(" (")
		for i, r := range op.regions {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			p.sb.WriteString("{\n")
			p.printRegionBody(r, indent)
			p.w(indent, "}")
		}
		p.sb.WriteString(")")
	}
	if len(op.attrs) > 0 {
		fmt.Fprintf(&p.sb, " {%s}", formatNamedAttrs(op.attrs))
	}
	fmt.Fprintf(&p.sb, " : %s\n", FunctionType{Inputs: op.OperandTypes(), Results: op.ResultTypes()})
}
