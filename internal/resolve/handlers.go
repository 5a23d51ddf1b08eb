package resolve

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
	"gopkg.in/yaml.v3"
)

// NewDefaultRegistry returns the built-in handler set named in spec §4.1.
// "default" has no entry here: the resolver special-cases it in
// resolveExpr before dispatch, since it needs to recursively resolve its
// "name" half and swallow a failure rather than run as an ordinary leaf
// handler (see resolver.go's resolveDefault).
func NewDefaultRegistry() map[string]Handler {
	return map[string]Handler{
		"output":    outputHandler,
		"rxref":     rxrefHandler,
		"xref":      xrefHandler,
		"envvar":    envvarHandler,
		"file":      fileHandler,
		"kms":       kmsHandler,
		"ssmstore":  ssmstoreHandler,
		"dynamodb":  dynamodbHandler,
		"ami":       amiHandler,
		"hook_data": hookDataHandler,
		"split":     splitHandler,
	}
}

func splitLogicalOutput(arg string) (string, string, error) {
	idx := strings.Index(arg, "::")
	if idx < 0 {
		return "", "", &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "expected logical_name::output_name",
			Context: map[string]interface{}{"arg": arg},
		}
	}
	return arg[:idx], arg[idx+2:], nil
}

// outputHandler reads context.outputs[logical_name][output_name]. If
// absent, it raises UnresolvedDependency so the planner can turn this into
// a graph edge (spec §4.1).
func outputHandler(_ context.Context, rc *Context, arg string) (interface{}, error) {
	logical, output, err := splitLogicalOutput(arg)
	if err != nil {
		return nil, err
	}
	val, ok := rc.Exec.Output(logical, output)
	if !ok {
		return nil, &stackset.UnresolvedDependencyError{Producer: logical}
	}
	return val, nil
}

// rxrefHandler resolves via the prior-build cache rather than the current
// plan's expected outputs (spec §4.1).
func rxrefHandler(_ context.Context, rc *Context, arg string) (interface{}, error) {
	logical, output, err := splitLogicalOutput(arg)
	if err != nil {
		return nil, err
	}
	qualified := logical
	if rc.Namespace != "" {
		qualified = rc.Namespace + "::" + logical
	}
	bag, ok := rc.RxRefCache[qualified]
	if !ok {
		bag, ok = rc.RxRefCache[logical]
	}
	if !ok {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "no prior-build output cached",
			Context: map[string]interface{}{"logical_name": logical},
		}
	}
	v, ok := bag[output]
	if !ok {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "prior-build output not found",
			Context: map[string]interface{}{"logical_name": logical, "output": output},
		}
	}
	return v, nil
}

// xrefHandler resolves an already-fully-qualified name against the live
// cloud without creating a dependency edge (spec §4.1). The live lookup is
// delegated to the Provider's describe via the capability bundle.
func xrefHandler(ctx context.Context, rc *Context, arg string) (interface{}, error) {
	fqn, output, err := splitLogicalOutput(arg)
	if err != nil {
		return nil, err
	}
	describer, ok := rc.Provider.(interface {
		Describe(ctx context.Context, fqn, region, profile string) (*ports.DescribeResult, error)
	})
	if !ok {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "xref requires a describe-capable provider"}
	}
	res, err := describer.Describe(ctx, fqn, "", "")
	if err != nil {
		return nil, err
	}
	v, ok := res.Outputs[output]
	if !ok {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "xref output not found",
			Context: map[string]interface{}{"fqn": fqn, "output": output},
		}
	}
	return v, nil
}

// envvarHandler reads a process environment variable; `file://path`
// indirects to the variable *name* stored in a file (spec §4.1).
func envvarHandler(_ context.Context, rc *Context, arg string) (interface{}, error) {
	name := arg
	if strings.HasPrefix(arg, "file://") {
		data, err := readRelFile(rc.ConfigDir, strings.TrimPrefix(arg, "file://"))
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(string(data))
	}
	val, ok := os.LookupEnv(name)
	if !ok {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "environment variable not set",
			Context: map[string]interface{}{"name": name},
		}
	}
	return val, nil
}

// fileHandler implements `codec:source` with the eight codecs named in
// spec §4.1. `parameterized` codecs wrap the raw content in a
// provider-intrinsic join marker consumed by the Blueprint/Provider layer.
func fileHandler(_ context.Context, rc *Context, arg string) (interface{}, error) {
	idx := strings.Index(arg, ":")
	if idx < 0 {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "file lookup requires codec:source"}
	}
	codec := arg[:idx]
	source := arg[idx+1:]

	var raw []byte
	var err error
	if strings.HasPrefix(source, "file://") {
		raw, err = readRelFile(rc.ConfigDir, strings.TrimPrefix(source, "file://"))
	} else {
		raw = []byte(source)
	}
	if err != nil {
		return nil, err
	}

	switch codec {
	case "plain":
		return string(raw), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(raw), nil
	case "parameterized":
		return parameterizedJoin(string(raw)), nil
	case "parameterized-b64":
		return map[string]interface{}{"Fn::Base64": parameterizedJoin(string(raw))}, nil
	case "json":
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "invalid json file", Cause: err}
		}
		return v, nil
	case "json-parameterized":
		return parameterizedJoin(string(raw)), nil
	case "yaml":
		var v interface{}
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "invalid yaml file", Cause: err}
		}
		return v, nil
	case "yaml-parameterized":
		return parameterizedJoin(string(raw)), nil
	default:
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "unknown file codec", Context: map[string]interface{}{"codec": codec}}
	}
}

// parameterizedJoin turns `{{ var }}` placeholders into a provider
// intrinsic join expression, the shape the blueprint/provider layer
// expects for template-parameter interpolation (spec §4.1).
func parameterizedJoin(raw string) map[string]interface{} {
	parts := []interface{}{}
	rest := raw
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				parts = append(parts, rest)
			}
			break
		}
		if start > 0 {
			parts = append(parts, rest[:start])
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			parts = append(parts, rest[start:])
			break
		}
		end += start
		name := strings.TrimSpace(rest[start+2 : end])
		parts = append(parts, map[string]interface{}{"Ref": name})
		rest = rest[end+2:]
	}
	return map[string]interface{}{"Fn::Join": []interface{}{"", parts}}
}

func readRelFile(configDir, rel string) ([]byte, error) {
	path := rel
	if !filepath.IsAbs(rel) {
		path = filepath.Join(configDir, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "failed to read file",
			Cause:   err,
			Context: map[string]interface{}{"path": path},
		}
	}
	return data, nil
}

// splitRegionPrefix splits `[region@]rest` used by kms/ssmstore (spec §4.1).
func splitRegionPrefix(arg string) (region, rest string) {
	idx := strings.Index(arg, "@")
	if idx < 0 {
		return "", arg
	}
	return arg[:idx], arg[idx+1:]
}

// kmsHandler decrypts `[region@]ciphertext` via the provider's crypto
// facility; ciphertext may be `file://relpath` (spec §4.1).
func kmsHandler(ctx context.Context, rc *Context, arg string) (interface{}, error) {
	region, rest := splitRegionPrefix(arg)
	var ciphertext []byte
	if strings.HasPrefix(rest, "file://") {
		data, err := readRelFile(rc.ConfigDir, strings.TrimPrefix(rest, "file://"))
		if err != nil {
			return nil, err
		}
		ciphertext = data
	} else {
		ciphertext = []byte(rest)
	}
	crypto, ok := rc.Provider.(ports.CryptoFacility)
	if !ok {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "kms lookup requires a CryptoFacility provider"}
	}
	plain, err := crypto.Decrypt(ctx, ciphertext, region)
	if err != nil {
		return nil, err
	}
	return string(plain), nil
}

// ssmstoreHandler reads a named secret parameter: `[region@]name`.
func ssmstoreHandler(ctx context.Context, rc *Context, arg string) (interface{}, error) {
	region, name := splitRegionPrefix(arg)
	store, ok := rc.Provider.(ports.ParameterStore)
	if !ok {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "ssmstore lookup requires a ParameterStore provider"}
	}
	return store.GetParameter(ctx, name, region)
}

// dynamodbHandler implements
// `region:table@partition_key:value.attr1[T].attr2[T]…` (spec §4.1).
func dynamodbHandler(ctx context.Context, rc *Context, arg string) (interface{}, error) {
	atIdx := strings.Index(arg, "@")
	if atIdx < 0 {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "dynamodb lookup requires region:table@key"}
	}
	head := arg[:atIdx]
	rest := arg[atIdx+1:]
	colonIdx := strings.Index(head, ":")
	if colonIdx < 0 {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "dynamodb lookup requires region:table"}
	}
	region := head[:colonIdx]
	table := head[colonIdx+1:]

	dotIdx := strings.Index(rest, ".")
	var keyPart, pathPart string
	if dotIdx < 0 {
		keyPart = rest
	} else {
		keyPart = rest[:dotIdx]
		pathPart = rest[dotIdx+1:]
	}
	kIdx := strings.Index(keyPart, ":")
	if kIdx < 0 {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "dynamodb lookup requires partition_key:value"}
	}
	partitionKey := keyPart[:kIdx]
	partitionValue := keyPart[kIdx+1:]

	store, ok := rc.Provider.(ports.BlobStore)
	if !ok {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "dynamodb lookup requires a BlobStore provider"}
	}
	item, err := store.GetItem(ctx, table, region, map[string]string{partitionKey: partitionValue})
	if err != nil {
		return nil, err
	}
	if pathPart == "" {
		return item, nil
	}
	return navigateAttrPath(item, strings.Split(pathPart, "."))
}

// navigateAttrPath walks `.attr1[T].attr2[T]…` segments where T selects the
// DynamoDB attribute-value type of the terminal leaf (S,N,M,L,B).
func navigateAttrPath(root map[string]interface{}, segments []string) (interface{}, error) {
	var cur interface{} = root
	for i, seg := range segments {
		name, typ := parseAttrSegment(seg)
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "dynamodb attribute path traversal failed", Context: map[string]interface{}{"segment": seg}}
		}
		next, ok := m[name]
		if !ok {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "dynamodb attribute not found", Context: map[string]interface{}{"attr": name}}
		}
		if i == len(segments)-1 {
			return coerceDynamoType(next, typ)
		}
		cur = next
	}
	return cur, nil
}

func parseAttrSegment(seg string) (name, typ string) {
	open := strings.Index(seg, "[")
	if open < 0 {
		return seg, "S"
	}
	close := strings.Index(seg, "]")
	if close < 0 {
		return seg[:open], "S"
	}
	return seg[:open], seg[open+1 : close]
}

func coerceDynamoType(v interface{}, typ string) (interface{}, error) {
	switch typ {
	case "N":
		switch x := v.(type) {
		case string:
			return strconv.ParseFloat(x, 64)
		default:
			return x, nil
		}
	default: // S, M, L, B: pass through as-is
		return v, nil
	}
}

// amiHandler returns the most recent matching image id for
// `owners:a,b name_regex:… key:value…` (spec §4.1).
func amiHandler(ctx context.Context, rc *Context, arg string) (interface{}, error) {
	filters := make(map[string]string)
	for _, field := range strings.Fields(arg) {
		idx := strings.Index(field, ":")
		if idx < 0 {
			continue
		}
		filters[field[:idx]] = field[idx+1:]
	}
	search, ok := rc.Provider.(ports.ImageSearch)
	if !ok {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "ami lookup requires an ImageSearch provider"}
	}
	region := filters["region"]
	delete(filters, "region")
	return search.FindAMI(ctx, region, filters)
}

// hookDataHandler reads `context.hook_data`: `key::path.to.leaf`.
func hookDataHandler(_ context.Context, rc *Context, arg string) (interface{}, error) {
	idx := strings.Index(arg, "::")
	key := arg
	var path string
	if idx >= 0 {
		key = arg[:idx]
		path = arg[idx+2:]
	}
	v, ok := rc.Exec.HookData(key)
	if !ok {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "hook_data key not found", Context: map[string]interface{}{"key": key}}
	}
	if path == "" {
		return v, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "hook_data value is not a map, cannot traverse path"}
	}
	return navigateDotPath(m, strings.Split(path, "."))
}

func navigateDotPath(root map[string]interface{}, segments []string) (interface{}, error) {
	var cur interface{} = root
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "hook_data path traversal failed", Context: map[string]interface{}{"segment": seg}}
		}
		next, ok := m[seg]
		if !ok {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "hook_data path segment not found", Context: map[string]interface{}{"segment": seg}}
		}
		cur = next
	}
	return cur, nil
}

// splitHandler returns a list: `delimiter::string` (spec §4.1).
func splitHandler(_ context.Context, _ *Context, arg string) (interface{}, error) {
	idx := strings.Index(arg, "::")
	if idx < 0 {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeResolution, Message: "split lookup requires delimiter::string"}
	}
	delim := arg[:idx]
	rest := arg[idx+2:]
	parts := strings.Split(rest, delim)
	out := make([]interface{}, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}
