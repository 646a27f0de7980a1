package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/source"
	"github.com/root-talis/kiroku/sqlscript"
)

var (
	ErrNotADirectory        = errors.New("migrations directory is not a directory")
	ErrPlaceholderUndefined = errors.New("no value provided for placeholder")
	ErrInvalidName          = errors.New("invalid migration file name")
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}`) // nolint:gochecknoglobals

var errMissingDescription = errors.New("missing description")

const configSuffix = ".conf"

// Naming describes how script file names are built.
type Naming struct {
	VersionedPrefix  string
	RepeatablePrefix string
	Separator        string
	Suffixes         []string
}

func DefaultNaming() Naming {
	return Naming{
		VersionedPrefix:  "V",
		RepeatablePrefix: "R",
		Separator:        "__",
		Suffixes:         []string{".sql"},
	}
}

type Options struct {
	Naming Naming
	// Parser splits scripts into statements. Defaults to a plain ANSI parser.
	Parser sqlscript.Parser
	// Recursive also scans subdirectories.
	Recursive bool
	// Placeholders, when not nil, are substituted for ${name} before a script runs.
	// The checksum is always computed on the script as written.
	Placeholders map[string]string
	// ValidateNaming fails resolution on scripts with a known prefix but a
	// malformed name instead of skipping them.
	ValidateNaming bool
	Logger         *zap.Logger
}

// Source resolves SQL scripts from one directory of an fs.FS.
type Source struct {
	fsys fs.FS
	dir  string
	opts Options

	mu    sync.Mutex
	names []string
}

func New(fsys fs.FS, dir string, opts Options) (*Source, error) {
	stat, err := fs.Stat(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}

	if opts.Naming.VersionedPrefix == "" && opts.Naming.RepeatablePrefix == "" {
		opts.Naming = DefaultNaming()
	}

	if opts.Parser == nil {
		opts.Parser = sqlscript.New(sqlscript.Options{})
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Source{
		fsys: fsys,
		dir:  dir,
		opts: opts,
	}, nil
}

// Resolve reads and parses every script. The directory listing is cached
// until Invalidate; the scripts themselves are read on every call.
func (s *Source) Resolve(ctx context.Context) ([]*migration.Resolved, error) {
	names, err := s.scriptNames()
	if err != nil {
		return nil, err
	}

	var naming error

	result := make([]*migration.Resolved, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resolved, ok, err := s.resolve(name)
		if errors.Is(err, ErrInvalidName) {
			naming = multierr.Append(naming, err)
			continue
		}

		if err != nil {
			return nil, err
		}

		if ok {
			result = append(result, resolved)
		}
	}

	if naming != nil {
		return nil, naming
	}

	if err := source.CheckDuplicates(result); err != nil {
		return nil, err
	}

	source.Sort(result)

	return result, nil
}

// Invalidate forgets the cached directory listing.
func (s *Source) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names = nil
}

// ---

func (s *Source) scriptNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.names != nil {
		return s.names, nil
	}

	names := make([]string, 0)
	err := fs.WalkDir(s.fsys, s.dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			if p != s.dir && !s.opts.Recursive {
				return fs.SkipDir
			}
			return nil
		}

		if entry.Type().IsRegular() && s.hasSuffix(entry.Name()) {
			names = append(names, strings.TrimPrefix(p, s.dir+"/"))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	sort.Strings(names)
	s.names = names

	return names, nil
}

func (s *Source) hasSuffix(name string) bool {
	for _, suffix := range s.opts.Naming.Suffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return true
		}
	}

	return false
}

func (s *Source) resolve(name string) (*migration.Resolved, bool, error) {
	version, description, ok, err := s.parseName(path.Base(name))
	if err != nil {
		return nil, false, fmt.Errorf("%w %s: %w", ErrInvalidName, name, err)
	}

	if !ok {
		return nil, false, nil
	}

	location := path.Join(s.dir, name)

	content, err := fs.ReadFile(s.fsys, location)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read migration %s: %w", location, err)
	}

	script := normalize(content)

	executable := script
	if s.opts.Placeholders != nil {
		if executable, err = s.replacePlaceholders(script); err != nil {
			return nil, false, fmt.Errorf("failed to prepare migration %s: %w", location, err)
		}
	}

	statements, err := s.opts.Parser.Parse(strings.NewReader(executable))
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse migration %s: %w", location, err)
	}

	transactional, err := s.transactional(location, statements)
	if err != nil {
		return nil, false, err
	}

	return &migration.Resolved{
		Version:          version,
		Description:      description,
		Script:           name,
		Type:             migration.TypeSQL,
		Checksum:         checksum(script),
		PhysicalLocation: location,
		Executor: &sqlExecutor{
			script:        name,
			statements:    statements,
			transactional: transactional,
		},
	}, true, nil
}

// parseName splits V1_2__add_users.sql into version 1.2 and "add users".
// Names that do not follow the pattern are skipped, or rejected when
// ValidateNaming is set and the prefix is known.
func (s *Source) parseName(file string) (migration.Version, string, bool, error) {
	naming := s.opts.Naming

	base := file
	for _, suffix := range naming.Suffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}

	var prefix string
	switch {
	case naming.RepeatablePrefix != "" && strings.HasPrefix(base, naming.RepeatablePrefix+naming.Separator):
		prefix = naming.RepeatablePrefix
	case naming.VersionedPrefix != "" && strings.HasPrefix(base, naming.VersionedPrefix):
		prefix = naming.VersionedPrefix
	default:
		s.opts.Logger.Debug("Skipping file with unknown prefix", zap.String("file", file))
		return migration.Version{}, "", false, nil
	}

	rawVersion, rawDescription, found := strings.Cut(strings.TrimPrefix(base, prefix), naming.Separator)
	description := strings.TrimSpace(strings.ReplaceAll(rawDescription, "_", " "))

	if !found || description == "" {
		if s.opts.ValidateNaming {
			return migration.Version{}, "", false, errMissingDescription
		}

		s.opts.Logger.Warn("Skipping migration file without a description", zap.String("file", file))
		return migration.Version{}, "", false, nil
	}

	if prefix == naming.RepeatablePrefix && rawVersion == "" {
		return migration.Version{}, description, true, nil
	}

	version, err := migration.ParseVersion(rawVersion)
	if err != nil {
		if s.opts.ValidateNaming {
			return migration.Version{}, "", false, err
		}

		s.opts.Logger.Warn("Skipping migration file with invalid version", zap.String("file", file), zap.Error(err))
		return migration.Version{}, "", false, nil
	}

	return version, description, true, nil
}

// transactional honours executeInTransaction from <script>.conf, and
// otherwise asks the parser.
func (s *Source) transactional(location string, statements []sqlscript.Statement) (bool, error) {
	raw, err := fs.ReadFile(s.fsys, location+configSuffix)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		for _, stmt := range statements {
			if !stmt.CanExecuteInTransaction {
				return false, nil
			}
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to read %s%s: %w", location, configSuffix, err)
	}

	conf := viper.New()
	conf.SetConfigType("properties")
	conf.SetDefault("executeInTransaction", true)

	if err := conf.ReadConfig(bytes.NewReader(raw)); err != nil {
		return false, fmt.Errorf("failed to parse %s%s: %w", location, configSuffix, err)
	}

	return conf.GetBool("executeInTransaction"), nil
}

func (s *Source) replacePlaceholders(script string) (string, error) {
	var missing []string

	replaced := placeholderPattern.ReplaceAllStringFunc(script, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := s.opts.Placeholders[name]; ok {
			return value
		}

		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrPlaceholderUndefined, strings.Join(missing, ", "))
	}

	return replaced, nil
}

// normalize strips a UTF-8 BOM and converts line endings so that a script
// checked out on another platform keeps its checksum.
func normalize(content []byte) string {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))

	return string(content)
}

func checksum(script string) *int32 {
	sum := xxhash.Sum64String(script)

	return migration.Checksum(int32(uint32(sum) ^ uint32(sum>>32))) //nolint:gosec
}

// ---

type sqlExecutor struct {
	script        string
	statements    []sqlscript.Statement
	transactional bool
}

func (e *sqlExecutor) Execute(ctx context.Context, conn migration.Conn) error {
	for _, stmt := range e.statements {
		if _, err := conn.ExecContext(ctx, stmt.SQL); err != nil {
			return fmt.Errorf("failed to execute statement at line %d of %s: %w", stmt.Line, e.script, err)
		}
	}

	return nil
}

func (e *sqlExecutor) CanExecuteInTransaction() bool {
	return e.transactional
}
