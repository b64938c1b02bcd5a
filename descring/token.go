package descring

// Token opcodes.
const (
	TokenOpcodeDirection = 0x0
	TokenOpcodeInsert    = 0x2
	TokenOpcodeNoop      = TokenOpcodeInsert
	TokenOpcodeRetrieve  = 0x4
	TokenOpcodeVerify    = 0xd
)

// Token stat bits.
const (
	TokenStatLastHash   = 1 << 0
	TokenStatLastPacket = 1 << 1
)

// Token instruction bits.
const (
	TokenInsHashDigest = 0x1c
	TokenInsTypeOutput = 1 << 5
	TokenInsTypeHash   = 1 << 6
	TokenInsTypeCrypto = 1 << 7
	TokenInsLast       = 1 << 8
)

// Token is one micro-program step executed by the packet engine.
type Token struct {
	Opcode       uint8
	Stat         uint8
	Instructions uint16
	Length       uint32
}

// NoopToken is the safe default filling unused token slots.
var NoopToken = Token{Opcode: TokenOpcodeNoop, Length: 1 << 2}

func (t Token) encode() uint32 {
	return t.Length&particleMask |
		uint32(t.Stat&0x3)<<17 |
		uint32(t.Instructions&0x1ff)<<19 |
		uint32(t.Opcode&0xf)<<28
}

func decodeToken(w uint32) Token {
	return Token{
		Opcode:       uint8(w >> 28 & 0xf),
		Stat:         uint8(w >> 17 & 0x3),
		Instructions: uint16(w >> 19 & 0x1ff),
		Length:       w & particleMask,
	}
}
