package ast

import "fmt"

// Kind tags the variant a Node represents.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindTemplate
	KindFragment
	KindFunction
	KindDef
	KindBlock
	KindMacro
	KindText
	KindWhitespace
	KindOptionalWhitespace
	KindNewline
	KindComment
	KindLiteral
	KindIdentifier
	KindTemplateMethodIdentifier
	KindPlaceholder
	KindPlaceholderSubstitution
	KindGetAttr
	KindGetUDN
	KindCallFunction
	KindSlice
	KindBinOp
	KindBinOpExpression
	KindUnaryOp
	KindAssign
	KindIf
	KindElse
	KindFor
	KindBreak
	KindContinue
	KindReturn
	KindDo
	KindEcho
	KindTargetList
	KindTarget
	KindExpressionList
	KindArgList
	KindParameterList
	KindParameter
	KindImport
	KindExtends
	KindAbsoluteExtends
	KindFrom
	KindImplements
	KindGlobal
	KindAttribute
	KindFilterAttribute
	KindAllowUndeclaredGlobals
	KindLooseResolution
	KindAllowRaw
	KindStripLines
	KindBufferWrite
	KindBufferExtend
	KindFilter
	KindCache
	KindListLiteral
	KindTupleLiteral
	KindDictLiteral

	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid:                  "Invalid",
	KindTemplate:                 "Template",
	KindFragment:                 "Fragment",
	KindFunction:                 "Function",
	KindDef:                      "Def",
	KindBlock:                    "Block",
	KindMacro:                    "Macro",
	KindText:                     "Text",
	KindWhitespace:               "Whitespace",
	KindOptionalWhitespace:       "OptionalWhitespace",
	KindNewline:                  "Newline",
	KindComment:                  "Comment",
	KindLiteral:                  "Literal",
	KindIdentifier:               "Identifier",
	KindTemplateMethodIdentifier: "TemplateMethodIdentifier",
	KindPlaceholder:              "Placeholder",
	KindPlaceholderSubstitution:  "PlaceholderSubstitution",
	KindGetAttr:                  "GetAttr",
	KindGetUDN:                   "GetUDN",
	KindCallFunction:             "CallFunction",
	KindSlice:                    "Slice",
	KindBinOp:                    "BinOp",
	KindBinOpExpression:          "BinOpExpression",
	KindUnaryOp:                  "UnaryOp",
	KindAssign:                   "Assign",
	KindIf:                       "If",
	KindElse:                     "Else",
	KindFor:                      "For",
	KindBreak:                    "Break",
	KindContinue:                 "Continue",
	KindReturn:                   "Return",
	KindDo:                       "Do",
	KindEcho:                     "Echo",
	KindTargetList:               "TargetList",
	KindTarget:                   "Target",
	KindExpressionList:           "ExpressionList",
	KindArgList:                  "ArgList",
	KindParameterList:            "ParameterList",
	KindParameter:                "Parameter",
	KindImport:                   "Import",
	KindExtends:                  "Extends",
	KindAbsoluteExtends:          "AbsoluteExtends",
	KindFrom:                     "From",
	KindImplements:               "Implements",
	KindGlobal:                   "Global",
	KindAttribute:                "Attribute",
	KindFilterAttribute:          "FilterAttribute",
	KindAllowUndeclaredGlobals:   "AllowUndeclaredGlobals",
	KindLooseResolution:          "LooseResolution",
	KindAllowRaw:                 "AllowRaw",
	KindStripLines:               "StripLines",
	KindBufferWrite:              "BufferWrite",
	KindBufferExtend:             "BufferExtend",
	KindFilter:                   "Filter",
	KindCache:                    "Cache",
	KindListLiteral:              "ListLiteral",
	KindTupleLiteral:             "TupleLiteral",
	KindDictLiteral:              "DictLiteral",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Kinds lists every valid node kind.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindInvalid + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// IsStatement reports whether k is a statement that must never be wrapped in
// an output write.
func (k Kind) IsStatement() bool {
	switch k {
	case KindAbsoluteExtends, KindAllowUndeclaredGlobals, KindAssign, KindBlock,
		KindBufferExtend, KindBufferWrite, KindComment, KindContinue, KindDef,
		KindDo, KindEcho, KindElse, KindExtends, KindFor, KindFrom, KindFunction,
		KindGlobal, KindIf, KindImplements, KindImport, KindLooseResolution,
		KindMacro, KindReturn, KindStripLines, KindText:
		return true
	}
	return false
}

// OwnsScope reports whether nodes of kind k introduce a binding context.
func (k Kind) OwnsScope() bool {
	switch k {
	case KindFunction, KindFor, KindIf, KindElse:
		return true
	}
	return false
}

// IsIdentifier reports whether k compares as a plain identifier.
func (k Kind) IsIdentifier() bool {
	switch k {
	case KindIdentifier, KindTemplateMethodIdentifier, KindTarget:
		return true
	}
	return false
}

// IsBlank reports whether k produces no meaningful output on its own.
func (k Kind) IsBlank() bool {
	switch k {
	case KindWhitespace, KindOptionalWhitespace, KindNewline, KindComment:
		return true
	}
	return false
}
