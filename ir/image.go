package ir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Image Format Constants
// ---------------------------------------------------------------------------

// ImageMagic is the magic number identifying a loom module image.
var ImageMagic = [4]byte{'L', 'O', 'O', 'M'}

// Image format version
// v1: initial format
const ImageVersion uint32 = 1

// imageHeaderSize is magic(4) + version(4).
const imageHeaderSize = 8

// Recognized module file extensions.
const (
	ExtLibrary    = ".lmod"
	ExtExecutable = ".lexe"
)

// Extensions lists the file extensions of module images.
func Extensions() []string {
	return []string{ExtLibrary, ExtExecutable}
}

// cborEncMode uses canonical mode so equal modules encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type moduleDTO struct {
	Name       string     `cbor:"1,keyasint"`
	MVID       []byte     `cbor:"2,keyasint"`
	References []string   `cbor:"3,keyasint,omitempty"`
	Attributes []string   `cbor:"4,keyasint,omitempty"`
	Types      []*typeDTO `cbor:"5,keyasint,omitempty"`
}

type typeDTO struct {
	Namespace        string             `cbor:"1,keyasint,omitempty"`
	Name             string             `cbor:"2,keyasint"`
	Attrs            uint32             `cbor:"3,keyasint,omitempty"`
	Base             *typeRefDTO        `cbor:"4,keyasint,omitempty"`
	Interfaces       []*typeRefDTO      `cbor:"5,keyasint,omitempty"`
	GenericParams    []*genericParamDTO `cbor:"6,keyasint,omitempty"`
	Fields           []*fieldDTO        `cbor:"7,keyasint,omitempty"`
	Properties       []*propertyDTO     `cbor:"8,keyasint,omitempty"`
	Methods          []*methodDTO       `cbor:"9,keyasint,omitempty"`
	CustomAttributes []string           `cbor:"10,keyasint,omitempty"`
}

type genericParamDTO struct {
	Name        string        `cbor:"1,keyasint"`
	Constraints []*typeRefDTO `cbor:"2,keyasint,omitempty"`
}

type fieldDTO struct {
	Name   string      `cbor:"1,keyasint"`
	Type   *typeRefDTO `cbor:"2,keyasint"`
	Static bool        `cbor:"3,keyasint,omitempty"`
}

type propertyDTO struct {
	Name   string      `cbor:"1,keyasint"`
	Type   *typeRefDTO `cbor:"2,keyasint"`
	Getter string      `cbor:"3,keyasint,omitempty"`
	Setter string      `cbor:"4,keyasint,omitempty"`
}

type methodDTO struct {
	Name             string             `cbor:"1,keyasint"`
	Attrs            uint32             `cbor:"2,keyasint,omitempty"`
	Return           *typeRefDTO        `cbor:"3,keyasint"`
	Params           []*slotDTO         `cbor:"4,keyasint,omitempty"`
	GenericParams    []*genericParamDTO `cbor:"5,keyasint,omitempty"`
	Overrides        []*methodRefDTO    `cbor:"6,keyasint,omitempty"`
	CustomAttributes []string           `cbor:"7,keyasint,omitempty"`
	Body             *bodyDTO           `cbor:"8,keyasint,omitempty"`
}

// slotDTO encodes both parameters and local variables.
type slotDTO struct {
	Name string      `cbor:"1,keyasint,omitempty"`
	Type *typeRefDTO `cbor:"2,keyasint"`
}

type bodyDTO struct {
	Variables    []*slotDTO        `cbor:"1,keyasint,omitempty"`
	Instructions []*instructionDTO `cbor:"2,keyasint,omitempty"`
}

// instructionDTO holds one operand slot per operand family. Ref is a
// one-based index into the body's instructions, variables or the method's
// parameters, depending on the opcode.
type instructionDTO struct {
	Op     uint8         `cbor:"1,keyasint"`
	Int    int64         `cbor:"2,keyasint,omitempty"`
	Float  float64       `cbor:"3,keyasint,omitempty"`
	Str    string        `cbor:"4,keyasint,omitempty"`
	Ref    int           `cbor:"5,keyasint,omitempty"`
	Type   *typeRefDTO   `cbor:"6,keyasint,omitempty"`
	Method *methodRefDTO `cbor:"7,keyasint,omitempty"`
	Field  *fieldRefDTO  `cbor:"8,keyasint,omitempty"`
}

type typeRefDTO struct {
	Kind      uint8         `cbor:"1,keyasint,omitempty"`
	Scope     string        `cbor:"2,keyasint,omitempty"`
	Namespace string        `cbor:"3,keyasint,omitempty"`
	Name      string        `cbor:"4,keyasint,omitempty"`
	Arity     int           `cbor:"5,keyasint,omitempty"`
	ValueType bool          `cbor:"6,keyasint,omitempty"`
	Element   *typeRefDTO   `cbor:"7,keyasint,omitempty"`
	Args      []*typeRefDTO `cbor:"8,keyasint,omitempty"`
	Owner     uint8         `cbor:"9,keyasint,omitempty"`
	Position  int           `cbor:"10,keyasint,omitempty"`
}

type methodRefDTO struct {
	DeclaringType *typeRefDTO   `cbor:"1,keyasint"`
	Name          string        `cbor:"2,keyasint"`
	Return        *typeRefDTO   `cbor:"3,keyasint"`
	Params        []*typeRefDTO `cbor:"4,keyasint,omitempty"`
	HasThis       bool          `cbor:"5,keyasint,omitempty"`
	GenericParams []string      `cbor:"6,keyasint,omitempty"`
	GenericArgs   []*typeRefDTO `cbor:"7,keyasint,omitempty"`
	Element       *methodRefDTO `cbor:"8,keyasint,omitempty"`
}

type fieldRefDTO struct {
	DeclaringType *typeRefDTO `cbor:"1,keyasint"`
	Name          string      `cbor:"2,keyasint"`
	Type          *typeRefDTO `cbor:"3,keyasint"`
	Static        bool        `cbor:"4,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode serializes the module. It fails on unbound cross-module references
// and on malformed bodies, so nothing invalid ever reaches disk.
func (m *Module) Encode() ([]byte, error) {
	if err := m.ValidateReferences(); err != nil {
		return nil, err
	}
	dto := &moduleDTO{
		Name:       m.Name,
		MVID:       m.MVID[:],
		References: m.References,
		Attributes: m.Attributes,
	}
	for _, t := range m.Types {
		td, err := encodeType(t)
		if err != nil {
			return nil, fmt.Errorf("ir: encode %s: %w", t.FullName(), err)
		}
		dto.Types = append(dto.Types, td)
	}
	payload, err := cborEncMode.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("ir: marshal module %s: %w", m.Name, err)
	}
	var buf bytes.Buffer
	buf.Grow(imageHeaderSize + len(payload))
	buf.Write(ImageMagic[:])
	binary.Write(&buf, binary.LittleEndian, ImageVersion)
	buf.Write(payload)
	return buf.Bytes(), nil
}

func encodeType(t *TypeDef) (*typeDTO, error) {
	dto := &typeDTO{
		Namespace:        t.Namespace,
		Name:             t.Name,
		Attrs:            uint32(t.Attrs),
		Base:             encodeTypeRef(t.BaseType),
		Interfaces:       encodeTypeRefs(t.Interfaces),
		GenericParams:    encodeGenericParams(t.GenericParams),
		CustomAttributes: t.CustomAttributes,
	}
	for _, f := range t.Fields {
		dto.Fields = append(dto.Fields, &fieldDTO{Name: f.Name, Type: encodeTypeRef(f.Type), Static: f.Static})
	}
	for _, p := range t.Properties {
		dto.Properties = append(dto.Properties, &propertyDTO{
			Name: p.Name, Type: encodeTypeRef(p.Type), Getter: p.Getter, Setter: p.Setter,
		})
	}
	for _, m := range t.Methods {
		md, err := encodeMethod(m)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name, err)
		}
		dto.Methods = append(dto.Methods, md)
	}
	return dto, nil
}

func encodeMethod(m *MethodDef) (*methodDTO, error) {
	dto := &methodDTO{
		Name:             m.Name,
		Attrs:            uint32(m.Attrs),
		Return:           encodeTypeRef(m.ReturnType),
		GenericParams:    encodeGenericParams(m.GenericParams),
		CustomAttributes: m.CustomAttributes,
	}
	for _, p := range m.Parameters {
		dto.Params = append(dto.Params, &slotDTO{Name: p.Name, Type: encodeTypeRef(p.Type)})
	}
	for _, o := range m.Overrides {
		dto.Overrides = append(dto.Overrides, encodeMethodRef(o))
	}
	if m.Body == nil {
		return dto, nil
	}
	if err := m.Body.Validate(); err != nil {
		return nil, err
	}
	body := &bodyDTO{}
	for _, v := range m.Body.Variables {
		body.Variables = append(body.Variables, &slotDTO{Name: v.Name, Type: encodeTypeRef(v.Type)})
	}
	index := make(map[*Instruction]int, len(m.Body.Instructions))
	for i, ins := range m.Body.Instructions {
		index[ins] = i
	}
	for _, ins := range m.Body.Instructions {
		d := &instructionDTO{Op: uint8(ins.Op)}
		switch v := ins.Operand.(type) {
		case int64:
			d.Int = v
		case float64:
			d.Float = v
		case string:
			d.Str = v
		case *Instruction:
			d.Ref = index[v] + 1
		case *Variable:
			d.Ref = v.Index + 1
		case *Parameter:
			d.Ref = v.Index + 1
		case *TypeRef:
			d.Type = encodeTypeRef(v)
		case *MethodRef:
			d.Method = encodeMethodRef(v)
		case *FieldRef:
			d.Field = encodeFieldRef(v)
		}
		body.Instructions = append(body.Instructions, d)
	}
	dto.Body = body
	return dto, nil
}

func encodeGenericParams(gps []*GenericParam) []*genericParamDTO {
	var out []*genericParamDTO
	for _, gp := range gps {
		out = append(out, &genericParamDTO{Name: gp.Name, Constraints: encodeTypeRefs(gp.Constraints)})
	}
	return out
}

func encodeTypeRef(t *TypeRef) *typeRefDTO {
	if t == nil {
		return nil
	}
	dto := &typeRefDTO{
		Kind:      uint8(t.Kind),
		Scope:     t.Scope,
		Namespace: t.Namespace,
		Name:      t.Name,
		Arity:     t.Arity,
		ValueType: t.ValueType,
		Element:   encodeTypeRef(t.Element),
		Args:      encodeTypeRefs(t.Args),
	}
	if t.Param != nil {
		dto.Owner = uint8(t.Param.Owner)
		dto.Position = t.Param.Position
		dto.Name = t.Param.Name
	}
	return dto
}

func encodeTypeRefs(ts []*TypeRef) []*typeRefDTO {
	var out []*typeRefDTO
	for _, t := range ts {
		out = append(out, encodeTypeRef(t))
	}
	return out
}

func encodeMethodRef(r *MethodRef) *methodRefDTO {
	if r == nil {
		return nil
	}
	dto := &methodRefDTO{
		DeclaringType: encodeTypeRef(r.DeclaringType),
		Name:          r.Name,
		Return:        encodeTypeRef(r.ReturnType),
		Params:        encodeTypeRefs(r.ParameterTypes),
		HasThis:       r.HasThis,
		GenericArgs:   encodeTypeRefs(r.GenericArgs),
		Element:       encodeMethodRef(r.Element),
	}
	for _, gp := range r.GenericParams {
		dto.GenericParams = append(dto.GenericParams, gp.Name)
	}
	return dto
}

func encodeFieldRef(r *FieldRef) *fieldRefDTO {
	return &fieldRefDTO{
		DeclaringType: encodeTypeRef(r.DeclaringType),
		Name:          r.Name,
		Type:          encodeTypeRef(r.Type),
		Static:        r.Static,
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decode parses a module image. Every failure wraps ErrUnreadable.
func Decode(data []byte) (*Module, error) {
	if len(data) < imageHeaderSize {
		return nil, unreadable(fmt.Errorf("%w: image is %d bytes", ErrCorruptData, len(data)))
	}
	if !bytes.Equal(data[:4], ImageMagic[:]) {
		return nil, unreadable(ErrInvalidMagic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != ImageVersion {
		return nil, unreadable(fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, v, ImageVersion))
	}
	var dto moduleDTO
	if err := cbor.Unmarshal(data[imageHeaderSize:], &dto); err != nil {
		return nil, unreadable(fmt.Errorf("%w: %w", ErrCorruptData, err))
	}
	mvid, err := uuid.FromBytes(dto.MVID)
	if err != nil {
		return nil, unreadable(fmt.Errorf("%w: mvid: %w", ErrCorruptData, err))
	}
	m := &Module{
		Name:       dto.Name,
		MVID:       mvid,
		References: dto.References,
		Attributes: dto.Attributes,
	}
	for _, td := range dto.Types {
		if td == nil {
			return nil, unreadable(fmt.Errorf("%w: nil type", ErrCorruptData))
		}
		if err := decodeType(m, td); err != nil {
			return nil, unreadable(err)
		}
	}
	return m, nil
}

// decoder relinks generic parameter references to the definitions in scope
// so that constraints remain reachable from signatures.
type decoder struct {
	typeParams   []*GenericParam
	methodParams []*GenericParam
}

func decodeType(m *Module, dto *typeDTO) error {
	t := m.NewType(dto.Namespace, dto.Name, TypeAttributes(dto.Attrs))
	t.CustomAttributes = dto.CustomAttributes
	d := &decoder{}
	t.GenericParams = d.genericParams(dto.GenericParams, OwnerType)
	d.typeParams = t.GenericParams
	d.constraints(t.GenericParams, dto.GenericParams)

	t.BaseType = d.typeRef(dto.Base)
	t.Interfaces = d.typeRefs(dto.Interfaces)
	for _, f := range dto.Fields {
		t.AddField(f.Name, d.typeRef(f.Type), f.Static)
	}
	for _, p := range dto.Properties {
		t.AddProperty(p.Name, d.typeRef(p.Type), p.Getter, p.Setter)
	}
	for _, md := range dto.Methods {
		if md == nil {
			return fmt.Errorf("%w: nil method in %s", ErrCorruptData, t.FullName())
		}
		if err := d.method(t, md); err != nil {
			return fmt.Errorf("%s::%s: %w", t.FullName(), md.Name, err)
		}
	}
	return nil
}

func (d *decoder) method(t *TypeDef, dto *methodDTO) error {
	meth := t.NewMethod(dto.Name, MethodAttributes(dto.Attrs), nil)
	meth.CustomAttributes = dto.CustomAttributes
	meth.GenericParams = d.genericParams(dto.GenericParams, OwnerMethod)
	d.methodParams = meth.GenericParams
	defer func() { d.methodParams = nil }()
	d.constraints(meth.GenericParams, dto.GenericParams)

	meth.ReturnType = d.typeRef(dto.Return)
	for _, p := range dto.Params {
		meth.AddParameter(p.Name, d.typeRef(p.Type))
	}
	for _, o := range dto.Overrides {
		meth.Overrides = append(meth.Overrides, d.methodRef(o))
	}
	if dto.Body == nil {
		return nil
	}
	body := meth.EnsureBody()
	for _, v := range dto.Body.Variables {
		body.AddVariable(v.Name, d.typeRef(v.Type))
	}
	body.Instructions = make([]*Instruction, len(dto.Body.Instructions))
	for i, id := range dto.Body.Instructions {
		if id == nil || !Opcode(id.Op).Valid() {
			return fmt.Errorf("%w: bad instruction %d", ErrCorruptData, i)
		}
		body.Instructions[i] = &Instruction{Op: Opcode(id.Op)}
	}
	for i, id := range dto.Body.Instructions {
		ins := body.Instructions[i]
		switch ins.Op.Operand() {
		case OperandInt:
			ins.Operand = id.Int
		case OperandFloat:
			ins.Operand = id.Float
		case OperandString:
			ins.Operand = id.Str
		case OperandBranch:
			if id.Ref < 1 || id.Ref > len(body.Instructions) {
				return fmt.Errorf("%w: branch %d out of range", ErrCorruptData, i)
			}
			ins.Operand = body.Instructions[id.Ref-1]
		case OperandVariable:
			if id.Ref < 1 || id.Ref > len(body.Variables) {
				return fmt.Errorf("%w: variable %d out of range", ErrCorruptData, i)
			}
			ins.Operand = body.Variables[id.Ref-1]
		case OperandParameter:
			if id.Ref < 1 || id.Ref > len(meth.Parameters) {
				return fmt.Errorf("%w: parameter %d out of range", ErrCorruptData, i)
			}
			ins.Operand = meth.Parameters[id.Ref-1]
		case OperandType:
			ins.Operand = d.typeRef(id.Type)
		case OperandMethod:
			ins.Operand = d.methodRef(id.Method)
		case OperandField:
			ins.Operand = d.fieldRef(id.Field)
		}
		if err := ins.CheckOperand(); err != nil {
			return fmt.Errorf("%w: instruction %d: %v", ErrCorruptData, i, err)
		}
	}
	return nil
}

func (d *decoder) genericParams(dtos []*genericParamDTO, owner ParamOwner) []*GenericParam {
	var out []*GenericParam
	for i, gd := range dtos {
		out = append(out, &GenericParam{Name: gd.Name, Owner: owner, Position: i})
	}
	return out
}

func (d *decoder) constraints(gps []*GenericParam, dtos []*genericParamDTO) {
	for i, gd := range dtos {
		gps[i].Constraints = d.typeRefs(gd.Constraints)
	}
}

func (d *decoder) typeRef(dto *typeRefDTO) *TypeRef {
	if dto == nil {
		return nil
	}
	t := &TypeRef{
		Kind:      TypeKind(dto.Kind),
		Scope:     dto.Scope,
		Namespace: dto.Namespace,
		Name:      dto.Name,
		Arity:     dto.Arity,
		ValueType: dto.ValueType,
		Element:   d.typeRef(dto.Element),
		Args:      d.typeRefs(dto.Args),
	}
	if t.Kind == KindGenericParam {
		t.Name = ""
		t.Param = d.param(ParamOwner(dto.Owner), dto.Position, dto.Name)
	}
	return t
}

func (d *decoder) param(owner ParamOwner, pos int, name string) *GenericParam {
	scope := d.typeParams
	if owner == OwnerMethod {
		scope = d.methodParams
	}
	if pos < len(scope) && scope[pos].Name == name {
		return scope[pos]
	}
	return &GenericParam{Name: name, Owner: owner, Position: pos}
}

func (d *decoder) typeRefs(dtos []*typeRefDTO) []*TypeRef {
	var out []*TypeRef
	for _, dto := range dtos {
		out = append(out, d.typeRef(dto))
	}
	return out
}

func (d *decoder) methodRef(dto *methodRefDTO) *MethodRef {
	if dto == nil {
		return nil
	}
	r := &MethodRef{
		DeclaringType:  d.typeRef(dto.DeclaringType),
		Name:           dto.Name,
		ReturnType:     d.typeRef(dto.Return),
		ParameterTypes: d.typeRefs(dto.Params),
		HasThis:        dto.HasThis,
		GenericArgs:    d.typeRefs(dto.GenericArgs),
		Element:        d.methodRef(dto.Element),
	}
	for i, name := range dto.GenericParams {
		r.GenericParams = append(r.GenericParams, &GenericParam{Name: name, Owner: OwnerMethod, Position: i})
	}
	return r
}

func (d *decoder) fieldRef(dto *fieldRefDTO) *FieldRef {
	if dto == nil {
		return nil
	}
	return &FieldRef{
		DeclaringType: d.typeRef(dto.DeclaringType),
		Name:          dto.Name,
		Type:          d.typeRef(dto.Type),
		Static:        dto.Static,
	}
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// ReadOptions configures ReadFile.
type ReadOptions struct {
	// Symbols loads the debug symbol side-file when one exists.
	Symbols bool
	// SymbolPath overrides the default side-file location.
	SymbolPath string
}

// WriteOptions configures WriteFile.
type WriteOptions struct {
	// Symbols writes the debug symbol side-file next to the image.
	Symbols bool
	// SymbolPath overrides the default side-file location.
	SymbolPath string
}

// SymbolPath returns the default side-file location for a module image.
func SymbolPath(path string) string {
	return path + ".sym"
}

// ReadFile reads and decodes a module image.
func ReadFile(path string, opts ReadOptions) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !opts.Symbols {
		return m, nil
	}
	symPath := opts.SymbolPath
	if symPath == "" {
		symPath = SymbolPath(path)
	}
	sym, err := os.ReadFile(symPath)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := m.DecodeSymbols(sym); err != nil {
		return nil, fmt.Errorf("%s: %w", symPath, err)
	}
	return m, nil
}

// WriteFile encodes the module and writes it to path, replacing the file
// atomically. The symbol side-file is written after the image.
func (m *Module) WriteFile(path string, opts WriteOptions) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	var sym []byte
	if opts.Symbols {
		if sym, err = m.EncodeSymbols(); err != nil {
			return err
		}
	}
	if err := WriteAtomic(path, data); err != nil {
		return err
	}
	if sym == nil {
		return nil
	}
	symPath := opts.SymbolPath
	if symPath == "" {
		symPath = SymbolPath(path)
	}
	return WriteAtomic(symPath, sym)
}

// WriteAtomic writes data to a temporary file in the destination directory
// and renames it over path.
func WriteAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".loom-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
