// Package nodestream decodes the collaborator's length-delimited stream
// of graph nodes (spec §6): each message on the wire is a varint byte
// count followed by that many bytes of a Node submessage, the same
// self-delimiting framing protoc-generated streaming readers use.
//
// This is the one piece of the "stream-proto decoding plumbing" spec §1
// calls out-of-scope for the core that still needs a concrete body
// behind the subprocess collaborator interface (src/bazelproc); it uses
// protowire directly rather than a generated .pb.go, since only three
// small, known message shapes are involved.
package nodestream

import (
	"bufio"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/thought-machine/hashdiff/src/graph"
	"github.com/thought-machine/hashdiff/src/herrors"
)

// Field numbers for the Node oneof and its three alternatives.
const (
	fieldNodeRule      = 1
	fieldNodeSource    = 2
	fieldNodeGenerated = 3

	fieldRuleName                 = 1
	fieldRuleClass                = 2
	fieldRuleSkylarkEnvHash       = 3
	fieldRuleAttributes           = 4
	fieldRuleInputs               = 5
	fieldRuleConfiguredRuleInputs = 6

	fieldAttrName  = 1
	fieldAttrValue = 2

	fieldSourceName        = 1
	fieldSourceSubincludes = 2

	fieldGeneratedName           = 1
	fieldGeneratedGeneratingRule = 2
)

// Decode reads every length-delimited Node message from r until EOF.
func Decode(r io.Reader) ([]graph.Node, error) {
	br := bufio.NewReader(r)
	var nodes []graph.Node
	for {
		n, err := readVarint(br)
		if err == io.EOF {
			return nodes, nil
		}
		if err != nil {
			return nil, &herrors.SnapshotDecodeError{Message: "reading message length: " + err.Error()}
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, &herrors.SnapshotDecodeError{Message: "reading message body: " + err.Error()}
		}
		node, err := decodeNode(buf)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
}

func readVarint(br *bufio.Reader) (int, error) {
	var result uint64
	var shift uint
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return int(result), nil
		}
		shift += 7
		if shift >= 64 {
			return 0, io.ErrUnexpectedEOF
		}
	}
}

func decodeNode(data []byte) (graph.Node, error) {
	var node graph.Node
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return graph.Node{}, &herrors.SnapshotDecodeError{Message: "malformed node tag"}
		}
		data = data[n:]
		switch num {
		case fieldNodeRule:
			msg, m, err := consumeEmbedded(data, typ)
			if err != nil {
				return graph.Node{}, err
			}
			rule, err := decodeRule(msg)
			if err != nil {
				return graph.Node{}, err
			}
			node.Rule = rule
			data = data[m:]
		case fieldNodeSource:
			msg, m, err := consumeEmbedded(data, typ)
			if err != nil {
				return graph.Node{}, err
			}
			src, err := decodeSource(msg)
			if err != nil {
				return graph.Node{}, err
			}
			node.Source = src
			data = data[m:]
		case fieldNodeGenerated:
			msg, m, err := consumeEmbedded(data, typ)
			if err != nil {
				return graph.Node{}, err
			}
			gen, err := decodeGenerated(msg)
			if err != nil {
				return graph.Node{}, err
			}
			node.Generated = gen
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return graph.Node{}, &herrors.SnapshotDecodeError{Message: "malformed node field"}
			}
			data = data[m:]
		}
	}
	return node, nil
}

func consumeEmbedded(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, &herrors.SnapshotDecodeError{Message: "expected length-delimited field"}
	}
	msg, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, &herrors.SnapshotDecodeError{Message: "malformed embedded message"}
	}
	return msg, n, nil
}

func decodeRule(data []byte) (*graph.Rule, error) {
	rule := &graph.Rule{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, &herrors.SnapshotDecodeError{Message: "malformed rule tag"}
		}
		data = data[n:]
		switch num {
		case fieldRuleName:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			rule.Name = s
			data = data[m:]
		case fieldRuleClass:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			rule.RuleClass = s
			data = data[m:]
		case fieldRuleSkylarkEnvHash:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			rule.SkylarkEnvironmentHash = s
			data = data[m:]
		case fieldRuleAttributes:
			msg, m, err := consumeEmbedded(data, typ)
			if err != nil {
				return nil, err
			}
			attr, err := decodeAttribute(msg)
			if err != nil {
				return nil, err
			}
			rule.Attributes = append(rule.Attributes, attr)
			data = data[m:]
		case fieldRuleInputs:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			rule.RuleInputs = append(rule.RuleInputs, s)
			data = data[m:]
		case fieldRuleConfiguredRuleInputs:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			rule.ConfiguredRuleInputs = append(rule.ConfiguredRuleInputs, s)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, &herrors.SnapshotDecodeError{Message: "malformed rule field"}
			}
			data = data[m:]
		}
	}
	return rule, nil
}

func decodeAttribute(data []byte) (graph.Attribute, error) {
	var attr graph.Attribute
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return graph.Attribute{}, &herrors.SnapshotDecodeError{Message: "malformed attribute tag"}
		}
		data = data[n:]
		switch num {
		case fieldAttrName:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return graph.Attribute{}, err
			}
			attr.Name = s
			data = data[m:]
		case fieldAttrValue:
			if typ != protowire.BytesType {
				return graph.Attribute{}, &herrors.SnapshotDecodeError{Message: "expected bytes attribute value"}
			}
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return graph.Attribute{}, &herrors.SnapshotDecodeError{Message: "malformed attribute value"}
			}
			// copy: protowire.ConsumeBytes returns a slice aliasing data.
			attr.Value = append([]byte(nil), b...)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return graph.Attribute{}, &herrors.SnapshotDecodeError{Message: "malformed attribute field"}
			}
			data = data[m:]
		}
	}
	return attr, nil
}

func decodeSource(data []byte) (*graph.SourceFile, error) {
	src := &graph.SourceFile{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, &herrors.SnapshotDecodeError{Message: "malformed source tag"}
		}
		data = data[n:]
		switch num {
		case fieldSourceName:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			src.Name = s
			data = data[m:]
		case fieldSourceSubincludes:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			src.Subincludes = append(src.Subincludes, s)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, &herrors.SnapshotDecodeError{Message: "malformed source field"}
			}
			data = data[m:]
		}
	}
	return src, nil
}

func decodeGenerated(data []byte) (*graph.GeneratedFile, error) {
	gen := &graph.GeneratedFile{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, &herrors.SnapshotDecodeError{Message: "malformed generated-file tag"}
		}
		data = data[n:]
		switch num {
		case fieldGeneratedName:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			gen.Name = s
			data = data[m:]
		case fieldGeneratedGeneratingRule:
			s, m, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			gen.GeneratingRule = s
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, &herrors.SnapshotDecodeError{Message: "malformed generated-file field"}
			}
			data = data[m:]
		}
	}
	return gen, nil
}

func consumeString(data []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, &herrors.SnapshotDecodeError{Message: "expected string field"}
	}
	s, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, &herrors.SnapshotDecodeError{Message: "malformed string field"}
	}
	return s, n, nil
}

// Encode is the inverse of Decode, used by tests to build a wire-format
// fixture without hand-assembling bytes.
func Encode(w io.Writer, nodes []graph.Node) error {
	for _, node := range nodes {
		msg := encodeNode(node)
		if _, err := w.Write(protowire.AppendVarint(nil, uint64(len(msg)))); err != nil {
			return err
		}
		if _, err := w.Write(msg); err != nil {
			return err
		}
	}
	return nil
}

func encodeNode(node graph.Node) []byte {
	var out []byte
	switch {
	case node.Rule != nil:
		out = protowire.AppendTag(out, fieldNodeRule, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeRule(node.Rule))
	case node.Generated != nil:
		out = protowire.AppendTag(out, fieldNodeGenerated, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeGenerated(node.Generated))
	default:
		src := node.Source
		if src == nil {
			src = &graph.SourceFile{}
		}
		out = protowire.AppendTag(out, fieldNodeSource, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeSource(src))
	}
	return out
}

func encodeRule(rule *graph.Rule) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldRuleName, protowire.BytesType)
	out = protowire.AppendString(out, rule.Name)
	out = protowire.AppendTag(out, fieldRuleClass, protowire.BytesType)
	out = protowire.AppendString(out, rule.RuleClass)
	if rule.SkylarkEnvironmentHash != "" {
		out = protowire.AppendTag(out, fieldRuleSkylarkEnvHash, protowire.BytesType)
		out = protowire.AppendString(out, rule.SkylarkEnvironmentHash)
	}
	for _, attr := range rule.Attributes {
		out = protowire.AppendTag(out, fieldRuleAttributes, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAttribute(attr))
	}
	for _, in := range rule.RuleInputs {
		out = protowire.AppendTag(out, fieldRuleInputs, protowire.BytesType)
		out = protowire.AppendString(out, in)
	}
	for _, in := range rule.ConfiguredRuleInputs {
		out = protowire.AppendTag(out, fieldRuleConfiguredRuleInputs, protowire.BytesType)
		out = protowire.AppendString(out, in)
	}
	return out
}

func encodeAttribute(attr graph.Attribute) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldAttrName, protowire.BytesType)
	out = protowire.AppendString(out, attr.Name)
	out = protowire.AppendTag(out, fieldAttrValue, protowire.BytesType)
	out = protowire.AppendBytes(out, attr.Value)
	return out
}

func encodeSource(src *graph.SourceFile) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldSourceName, protowire.BytesType)
	out = protowire.AppendString(out, src.Name)
	for _, s := range src.Subincludes {
		out = protowire.AppendTag(out, fieldSourceSubincludes, protowire.BytesType)
		out = protowire.AppendString(out, s)
	}
	return out
}

func encodeGenerated(gen *graph.GeneratedFile) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldGeneratedName, protowire.BytesType)
	out = protowire.AppendString(out, gen.Name)
	out = protowire.AppendTag(out, fieldGeneratedGeneratingRule, protowire.BytesType)
	out = protowire.AppendString(out, gen.GeneratingRule)
	return out
}
