package heap

// OpCode identifies a bytecode instruction. Each opcode is one byte in a
// Chunk's Code; operands, when present, are packed immediately after it
// (spec.md §4.G).
type OpCode byte

const (
	OpConstant OpCode = iota
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNegate
	OpNot
	OpPrint
	OpDefineGlobal
	OpGetGlobal
	OpSetGlobal
	OpGetLocal
	OpSetLocal
	OpGetUpvalue
	OpSetUpvalue
	OpJumpIfFalse
	OpJump
	OpLoop
	OpCall
	OpClosure
	OpCloseUpvalue
	OpReturn
	OpClass
	OpGetProperty
	OpSetProperty
	OpMethod
	OpInvoke
	OpInherit
	OpGetSuper
	OpSuperInvoke
)

// String names an opcode for disassembly and error messages.
func (op OpCode) String() string {
	switch op {
	case OpConstant:
		return "OP_CONSTANT"
	case OpNil:
		return "OP_NIL"
	case OpTrue:
		return "OP_TRUE"
	case OpFalse:
		return "OP_FALSE"
	case OpPop:
		return "OP_POP"
	case OpEqual:
		return "OP_EQUAL"
	case OpGreater:
		return "OP_GREATER"
	case OpLess:
		return "OP_LESS"
	case OpAdd:
		return "OP_ADD"
	case OpSubtract:
		return "OP_SUBTRACT"
	case OpMultiply:
		return "OP_MULTIPLY"
	case OpDivide:
		return "OP_DIVIDE"
	case OpNegate:
		return "OP_NEGATE"
	case OpNot:
		return "OP_NOT"
	case OpPrint:
		return "OP_PRINT"
	case OpDefineGlobal:
		return "OP_DEFINE_GLOBAL"
	case OpGetGlobal:
		return "OP_GET_GLOBAL"
	case OpSetGlobal:
		return "OP_SET_GLOBAL"
	case OpGetLocal:
		return "OP_GET_LOCAL"
	case OpSetLocal:
		return "OP_SET_LOCAL"
	case OpGetUpvalue:
		return "OP_GET_UPVALUE"
	case OpSetUpvalue:
		return "OP_SET_UPVALUE"
	case OpJumpIfFalse:
		return "OP_JUMP_IF_FALSE"
	case OpJump:
		return "OP_JUMP"
	case OpLoop:
		return "OP_LOOP"
	case OpCall:
		return "OP_CALL"
	case OpClosure:
		return "OP_CLOSURE"
	case OpCloseUpvalue:
		return "OP_CLOSE_UPVALUE"
	case OpReturn:
		return "OP_RETURN"
	case OpClass:
		return "OP_CLASS"
	case OpGetProperty:
		return "OP_GET_PROPERTY"
	case OpSetProperty:
		return "OP_SET_PROPERTY"
	case OpMethod:
		return "OP_METHOD"
	case OpInvoke:
		return "OP_INVOKE"
	case OpInherit:
		return "OP_INHERIT"
	case OpGetSuper:
		return "OP_GET_SUPER"
	case OpSuperInvoke:
		return "OP_SUPER_INVOKE"
	default:
		return "OP_UNKNOWN"
	}
}
