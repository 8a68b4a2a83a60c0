// Package cli contains small helpers shared by hashdiff's command-line
// entry points: flag parsing on top of go-flags, and levenshtein-based
// "did you mean" suggestions for unrecognised values.
package cli

import (
	"fmt"
	"os"
	"path"
	"reflect"
	"strings"

	"github.com/google/shlex"
	flags "github.com/thought-machine/go-flags"
)

// ParseFlags parses the app's flags and returns the parser, any extra
// arguments, and any error encountered.
func ParseFlags(appname string, data interface{}, args []string) (*flags.Parser, []string, error) {
	parser := flags.NewNamedParser(path.Base(args[0]), flags.HelpFlag|flags.PassDoubleDash)
	parser.AddGroup(appname+" options", "", data)
	extraArgs, err := parser.ParseArgs(args[1:])
	return parser, extraArgs, err
}

// ParseFlagsOrDie parses the app's flags and exits the process if that
// fails, or if unexpected positional arguments remain.
func ParseFlagsOrDie(appname string, data interface{}, args []string) *flags.Parser {
	parser, extraArgs, err := ParseFlags(appname, data, args)
	if err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		writeUsage(data)
		parser.WriteHelp(os.Stderr)
		fmt.Fprintf(os.Stderr, "\n%s\n", err)
		os.Exit(1)
	} else if len(extraArgs) > 0 {
		writeUsage(data)
		fmt.Fprintf(os.Stderr, "Unknown argument(s): %s\n", strings.Join(extraArgs, " "))
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}
	return parser
}

func writeUsage(opts interface{}) {
	if s := getUsage(opts); s != "" {
		fmt.Println(s)
		fmt.Println("")
	}
}

// getUsage extracts any usage specified on a flag struct, set on a field
// named Usage via a struct tag named "usage".
func getUsage(opts interface{}) string {
	if field, present := reflect.TypeOf(opts).Elem().FieldByName("Usage"); present {
		return field.Tag.Get("usage")
	}
	return ""
}

// A ShellSplitList is a repeatable flag whose value is tokenized the way a
// shell would, so that e.g. --bazelStartupOptions="--host_jvm_args=-Xmx2g"
// behaves the same whether it's passed once with several tokens or several
// times with one token each.
type ShellSplitList []string

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (l *ShellSplitList) UnmarshalFlag(in string) error {
	tokens, err := shlex.Split(in)
	if err != nil {
		return &flags.Error{Type: flags.ErrMarshal, Message: err.Error()}
	}
	*l = append(*l, tokens...)
	return nil
}
