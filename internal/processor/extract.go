package processor

import (
	"time"

	"github.com/arkilian/colflat/internal/document"
	"github.com/arkilian/colflat/internal/nested"
	"github.com/arkilian/colflat/pkg/types"
)

// extractRequired sets group_id and timestamp. A timestamp that cannot be
// parsed or does not fit the storage range is replaced by now.
func (p *Processor) extractRequired(out types.Row, event *InsertEvent) {
	out["group_id"] = event.GroupID
	out["timestamp"] = p.eventTimestamp(event)
}

func (p *Processor) eventTimestamp(event *InsertEvent) time.Time {
	ts, err := time.Parse(PayloadDatetimeFormat, event.Datetime)
	if err == nil {
		if valid, ok := document.EnsureValidDate(ts); ok {
			return valid
		}
	}
	return p.now()
}

func (p *Processor) extractCommon(out types.Row, event *InsertEvent) {
	out["platform"] = document.NullableString(event.Platform)

	data := event.Data
	// Out of range values leave the column to its default.
	if received, ok := document.CollapseUint32(data.Lookup("received")); ok {
		out["received"] = time.Unix(int64(received), 0).UTC()
	}
	out["version"] = document.NullableString(data.Lookup("version"))
	out["location"] = document.NullableString(data.Lookup("location"))

	names := []string{}
	versions := []string{}
	if modules, ok := data.Lookup("modules").(document.Object); ok {
		for _, m := range modules {
			names = append(names, m.Key)
			// A null version would put a NULL in a non-nullable array.
			version, _ := document.Unicodify(m.Value)
			versions = append(versions, version)
		}
	}
	out["modules.name"] = names
	out["modules.version"] = versions
}

func extractSDK(out types.Row, sdk document.Object) {
	out["sdk_name"] = document.NullableString(sdk.Lookup("name"))
	out["sdk_version"] = document.NullableString(sdk.Lookup("version"))

	integrations := []string{}
	if list, ok := sdk.Lookup("integrations").([]interface{}); ok {
		for _, item := range list {
			if name, ok := document.Unicodify(item); ok && name != "" {
				integrations = append(integrations, name)
			}
		}
	}
	out["sdk_integrations"] = integrations
}

// flattenNested fills the "<family>.key" and "<family>.value" arrays with
// every entry of values that is not promoted in the family. Entries whose
// value renders as an empty string are skipped. Input order is kept.
func flattenNested(out types.Row, family nested.Family, values document.Object) {
	keys := make([]string, 0, len(values))
	vals := make([]string, 0, len(values))
	for _, f := range values {
		if family.IsPromoted(f.Key) {
			continue
		}
		value, ok := document.Unicodify(f.Value)
		if !ok || value == "" {
			continue
		}
		keys = append(keys, f.Key)
		vals = append(vals, value)
	}
	out[family.KeyColumn()] = keys
	out[family.ValueColumn()] = vals
}

// flattenContexts turns {"os": {"name": "Linux", "type": "os"}} into
// {"os.name": "Linux"}. Only scalar fields of object contexts are kept and
// the "type" field is dropped.
func flattenContexts(contexts document.Object) document.Object {
	out := document.Object{}
	for _, ctx := range contexts {
		fields, ok := ctx.Value.(document.Object)
		if !ok {
			continue
		}
		for _, f := range fields {
			if f.Key == "type" || !document.IsScalar(f.Value) {
				continue
			}
			out.Set(ctx.Key+"."+f.Key, f.Value)
		}
	}
	return out
}

// exceptionOf returns the exception interface of the payload under its
// current or legacy name.
func exceptionOf(data document.Object) document.Object {
	if v, ok := data.Get("exception"); ok {
		obj, _ := v.(document.Object)
		return obj
	}
	return data.Object("sentry.interfaces.Exception")
}

func (p *Processor) extractStacktraces(out types.Row, projectID uint64, stacks []interface{}) {
	stackTypes := []interface{}{}
	stackValues := []interface{}{}
	mechanismTypes := []interface{}{}
	mechanismHandled := []interface{}{}

	absPaths := []interface{}{}
	filenames := []interface{}{}
	packages := []interface{}{}
	modules := []interface{}{}
	functions := []interface{}{}
	inApp := []interface{}{}
	colnos := []interface{}{}
	linenos := []interface{}{}
	stackLevels := []uint16{}

	if p.denylist == nil || !p.denylist.Contains(projectID) {
		var level uint16
		for _, s := range stacks {
			stack, ok := s.(document.Object)
			if !ok {
				continue
			}

			stackTypes = append(stackTypes, document.NullableString(stack.Lookup("type")))
			stackValues = append(stackValues, document.NullableString(stack.Lookup("value")))

			mechanism := stack.Object("mechanism")
			mechanismTypes = append(mechanismTypes, document.NullableString(mechanism.Lookup("type")))
			mechanismHandled = append(mechanismHandled, document.NullableBool(mechanism.Lookup("handled")))

			frames, _ := stack.Object("stacktrace").Lookup("frames").([]interface{})
			for _, fr := range frames {
				frame, ok := fr.(document.Object)
				if !ok {
					continue
				}
				absPaths = append(absPaths, document.NullableString(frame.Lookup("abs_path")))
				filenames = append(filenames, document.NullableString(frame.Lookup("filename")))
				packages = append(packages, document.NullableString(frame.Lookup("package")))
				modules = append(modules, document.NullableString(frame.Lookup("module")))
				functions = append(functions, document.NullableString(frame.Lookup("function")))
				inApp = append(inApp, document.NullableBool(frame.Lookup("in_app")))
				colnos = append(colnos, document.NullableUint32(frame.Lookup("colno")))
				linenos = append(linenos, document.NullableUint32(frame.Lookup("lineno")))
				stackLevels = append(stackLevels, level)
			}
			level++
		}
	}

	out["exception_stacks.type"] = stackTypes
	out["exception_stacks.value"] = stackValues
	out["exception_stacks.mechanism_type"] = mechanismTypes
	out["exception_stacks.mechanism_handled"] = mechanismHandled
	out["exception_frames.abs_path"] = absPaths
	out["exception_frames.filename"] = filenames
	out["exception_frames.package"] = packages
	out["exception_frames.module"] = modules
	out["exception_frames.function"] = functions
	out["exception_frames.in_app"] = inApp
	out["exception_frames.colno"] = colnos
	out["exception_frames.lineno"] = linenos
	out["exception_frames.stack_level"] = stackLevels
}
