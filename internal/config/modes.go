package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"mvdan.cc/sh/v3/shell"

	"mxdeploy/internal/transport"
)

// ModeName identifies how a project reaches its dispatcher.
type ModeName string

const (
	// ModeProcess spawns a local dispatcher process.
	ModeProcess ModeName = "process"
	// ModeProcessPropFile is ModeProcess with values from an external file.
	ModeProcessPropFile ModeName = "process-propfile"
	// ModeSSH drives the remote command console over SSH.
	ModeSSH ModeName = "ssh"
	// ModeSSHPropFile is ModeSSH with values from an external file.
	ModeSSHPropFile ModeName = "ssh-propfile"
)

// Environment of a spawned dispatcher process carrying the session login.
const (
	EnvDispatchUser     = "MXDISPATCH_USER"
	EnvDispatchPassword = "MXDISPATCH_PASSWORD"
)

// Key is a project property used by a mode.
type Key struct {
	Name    string
	Default any
	Usage   string
}

// Mode is one row of the connection mode table.
type Mode struct {
	Name  ModeName
	Title string
	Keys  []Key

	validate func(p *Project) error
	resolve  func(p *Project, prompt CredentialPrompter) (*Settings, error)
}

// Settings are the resolved connection parameters. Exactly one of Process
// and Line is set.
type Settings struct {
	Mode    ModeName
	Process *transport.FramedConfig
	Line    *transport.LineConfig
}

// UpdateByFileContent reports whether updates carry the file contents.
func (s *Settings) UpdateByFileContent() bool {
	if s.Line != nil {
		return s.Line.Line.UpdateByFileContent
	}
	return s.Process.UpdateByFileContent
}

// Target describes the connection endpoint for log messages.
func (s *Settings) Target() string {
	if s.Line != nil {
		return fmt.Sprintf("%s@%s:%d", s.Line.SSH.User, s.Line.SSH.Host, s.Line.SSH.Port)
	}
	return s.Process.Executable
}

// Open connects the transport described by s.
func (s *Settings) Open(ctx context.Context) (transport.Transport, error) {
	if s.Line != nil {
		tr, err := transport.OpenLine(ctx, *s.Line)
		if err != nil {
			return nil, err
		}
		return tr, nil
	}
	tr, err := transport.OpenFramed(ctx, *s.Process)
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// Process mode keys.
const (
	KeyProcessExecutable   = "process.executable"
	KeyProcessWorkDir      = "process.workdir"
	KeyProcessArgs         = "process.args"
	KeyProcessBootstrap    = "process.bootstrap"
	KeyProcessUser         = "process.user"
	KeyProcessPassword     = "process.password"
	KeyProcessSavePassword = "process.save-password"
	KeyProcessByContent    = "process.update-by-file-content"
	KeyProcessTrace        = "process.trace"
)

// SSH mode keys.
const (
	KeySSHHost          = "ssh.host"
	KeySSHPort          = "ssh.port"
	KeySSHUser          = "ssh.user"
	KeySSHPassword      = "ssh.password"
	KeySSHSavePassword  = "ssh.save-password"
	KeySSHKnownHosts    = "ssh.known-hosts"
	KeyMQLPath          = "mql.path"
	KeyMQLUser          = "mql.user"
	KeyMQLPassword      = "mql.password"
	KeyMQLSavePassword  = "mql.save-password"
	KeyMQLTrace         = "mql.trace"
	KeyMQLByFileContent = "mql.update-by-file-content"
)

// Property file mode keys. The key.* values name entries of the external
// file, not values.
const (
	KeyPropFilePath         = "propfile.path"
	KeyPropExecutable       = "propfile.key.executable"
	KeyPropArgs             = "propfile.key.args"
	KeyPropBootstrap        = "propfile.key.bootstrap"
	KeyPropUser             = "propfile.key.user"
	KeyPropPassword         = "propfile.key.password"
	KeyPropByFileContent    = "propfile.key.update-by-file-content"
	KeyPropSSHHost          = "propfile.key.ssh-host"
	KeyPropSSHPort          = "propfile.key.ssh-port"
	KeyPropSSHUser          = "propfile.key.ssh-user"
	KeyPropSSHPassword      = "propfile.key.ssh-password"
	KeyPropMQLPath          = "propfile.key.mql-path"
	KeyPropMQLUser          = "propfile.key.mql-user"
	KeyPropMQLPassword      = "propfile.key.mql-password"
	KeyPropMQLTrace         = "propfile.key.mql-trace"
	KeyPropMQLByFileContent = "propfile.key.mql-update-by-file-content"
)

const (
	defaultExecutable = "mxdispatch"
	defaultArgs       = "serve"
	defaultMQLPath    = "mql"
	processRealm      = "Dispatcher session"
)

var modes = []*Mode{
	{
		Name:  ModeProcess,
		Title: "Local dispatcher process",
		Keys: []Key{
			{Name: KeyProcessExecutable, Default: defaultExecutable, Usage: "dispatcher executable"},
			{Name: KeyProcessWorkDir, Usage: "working directory of the dispatcher"},
			{Name: KeyProcessArgs, Default: defaultArgs, Usage: "arguments, shell quoted"},
			{Name: KeyProcessBootstrap, Usage: "bootstrap arguments appended after args, shell quoted"},
			{Name: KeyProcessUser, Usage: "session user"},
			{Name: KeyProcessPassword, Usage: "session password"},
			{Name: KeyProcessSavePassword, Default: false, Usage: "use the stored password instead of asking"},
			{Name: KeyProcessByContent, Default: true, Usage: "send file contents on update"},
			{Name: KeyProcessTrace, Default: false, Usage: "trace protocol traffic"},
		},
		validate: validateProcess,
		resolve:  resolveProcess,
	},
	{
		Name:  ModeProcessPropFile,
		Title: "Local dispatcher process, settings from a property file",
		Keys: []Key{
			{Name: KeyPropFilePath, Usage: "properties, YAML or JSON file"},
			{Name: KeyPropExecutable, Usage: "entry holding the executable"},
			{Name: KeyPropArgs, Usage: "entry holding the arguments"},
			{Name: KeyPropBootstrap, Usage: "entry holding the bootstrap arguments"},
			{Name: KeyPropUser, Usage: "entry holding the session user"},
			{Name: KeyPropPassword, Usage: "entry holding the session password"},
			{Name: KeyPropByFileContent, Usage: "entry holding the update by file content flag"},
		},
		validate: validateProcessPropFile,
		resolve:  resolveProcessPropFile,
	},
	{
		Name:  ModeSSH,
		Title: "Remote console over SSH",
		Keys: []Key{
			{Name: KeySSHHost, Usage: "SSH server"},
			{Name: KeySSHPort, Default: transport.DefaultSSHPort, Usage: "SSH port"},
			{Name: KeySSHUser, Usage: "SSH user"},
			{Name: KeySSHPassword, Usage: "SSH password"},
			{Name: KeySSHSavePassword, Default: false, Usage: "use the stored SSH password instead of asking"},
			{Name: KeySSHKnownHosts, Usage: "known_hosts file; host keys are not verified when empty"},
			{Name: KeyMQLPath, Default: defaultMQLPath, Usage: "remote console executable"},
			{Name: KeyMQLUser, Usage: "session user"},
			{Name: KeyMQLPassword, Usage: "session password"},
			{Name: KeyMQLSavePassword, Default: false, Usage: "use the stored session password instead of asking"},
			{Name: KeyMQLTrace, Default: false, Usage: "trace console traffic"},
			{Name: KeyMQLByFileContent, Default: true, Usage: "send file contents on update"},
		},
		validate: validateSSH,
		resolve:  resolveSSH,
	},
	{
		Name:  ModeSSHPropFile,
		Title: "Remote console over SSH, settings from a property file",
		Keys: []Key{
			{Name: KeyPropFilePath, Usage: "properties, YAML or JSON file"},
			{Name: KeyPropSSHHost, Usage: "entry holding the SSH server"},
			{Name: KeyPropSSHPort, Usage: "entry holding the SSH port"},
			{Name: KeyPropSSHUser, Usage: "entry holding the SSH user"},
			{Name: KeyPropSSHPassword, Usage: "entry holding the SSH password"},
			{Name: KeyPropMQLPath, Usage: "entry holding the console executable"},
			{Name: KeyPropMQLUser, Usage: "entry holding the session user"},
			{Name: KeyPropMQLPassword, Usage: "entry holding the session password"},
			{Name: KeyPropMQLTrace, Usage: "entry holding the trace flag"},
			{Name: KeyPropMQLByFileContent, Usage: "entry holding the update by file content flag"},
		},
		validate: validateSSHPropFile,
		resolve:  resolveSSHPropFile,
	},
}

// Modes returns the mode table.
func Modes() []*Mode {
	return append([]*Mode(nil), modes...)
}

// LookupMode returns the mode called name.
func LookupMode(name string) (*Mode, error) {
	want := ModeName(strings.ToLower(strings.TrimSpace(name)))
	for _, m := range modes {
		if m.Name == want {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown connection mode '%s'", name)
}

func requireKeys(p *Project, keys ...string) error {
	for _, k := range keys {
		if p.GetString(k) == "" {
			return fmt.Errorf("project %s: '%s' is not set", p.Name, k)
		}
	}
	return nil
}

func validPort(p *Project, key string) (int, error) {
	port, err := cast.ToIntE(p.Get(key))
	if err != nil {
		return 0, fmt.Errorf("project %s: '%s' is not a number", p.Name, key)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("project %s: '%s' must be between 0 and 65535, got %d", p.Name, key, port)
	}
	return port, nil
}

func splitArgs(key, s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := shell.Fields(s, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return args, nil
}

func validateProcess(p *Project) error {
	return requireKeys(p, KeyProcessExecutable)
}

func resolveProcess(p *Project, prompt CredentialPrompter) (*Settings, error) {
	user, password, err := credentials(p, processRealm,
		KeyProcessUser, KeyProcessPassword, KeyProcessSavePassword, prompt)
	if err != nil {
		return nil, err
	}
	return processSettings(p,
		p.GetString(KeyProcessExecutable),
		p.GetString(KeyProcessArgs),
		p.GetString(KeyProcessBootstrap),
		user, password,
		p.GetBool(KeyProcessByContent),
		p.GetBool(KeyProcessTrace))
}

func processSettings(p *Project, executable, args, bootstrap, user, password string, byContent, trace bool) (*Settings, error) {
	argv, err := splitArgs("arguments", args)
	if err != nil {
		return nil, err
	}
	boot, err := splitArgs("bootstrap arguments", bootstrap)
	if err != nil {
		return nil, err
	}
	workDir := p.GetString(KeyProcessWorkDir)
	if workDir != "" && !filepath.IsAbs(workDir) {
		workDir = filepath.Join(p.Dir, workDir)
	}

	var env []string
	if user != "" {
		env = append(env, EnvDispatchUser+"="+user, EnvDispatchPassword+"="+password)
	}
	return &Settings{
		Mode: ModeProcess,
		Process: &transport.FramedConfig{
			Executable:          executable,
			WorkDir:             workDir,
			Args:                argv,
			BootstrapArgs:       boot,
			Env:                 env,
			UpdateByFileContent: byContent,
			HandshakeTimeout:    p.GetDuration(KeyHandshakeTimeout),
			Trace:               trace,
		},
	}, nil
}

func validateProcessPropFile(p *Project) error {
	return requireKeys(p, KeyPropFilePath, KeyPropBootstrap)
}

func resolveProcessPropFile(p *Project, prompt CredentialPrompter) (*Settings, error) {
	ext, err := readPropFile(p)
	if err != nil {
		return nil, err
	}

	executable := ext.value(p.GetString(KeyPropExecutable), defaultExecutable)
	args := ext.value(p.GetString(KeyPropArgs), defaultArgs)

	var user, password string
	userKey, passKey := p.GetString(KeyPropUser), p.GetString(KeyPropPassword)
	if userKey == "" || passKey == "" {
		if prompt == nil {
			return nil, fmt.Errorf("%s: %w", processRealm, ErrNoCredentials)
		}
		if user, password, err = prompt.Prompt(processRealm, ext.value(userKey, "")); err != nil {
			return nil, err
		}
	} else {
		user, password = ext.value(userKey, ""), ext.value(passKey, "")
	}

	byContent := ext.flag(p.GetString(KeyPropByFileContent), true)
	s, err := processSettings(p, executable, args, ext.value(p.GetString(KeyPropBootstrap), ""), user, password, byContent, false)
	if err != nil {
		return nil, err
	}
	s.Mode = ModeProcessPropFile
	return s, nil
}

func validateSSH(p *Project) error {
	if err := requireKeys(p, KeySSHHost); err != nil {
		return err
	}
	if _, err := validPort(p, KeySSHPort); err != nil {
		return err
	}
	return requireKeys(p, KeySSHUser, KeyMQLPath, KeyMQLUser)
}

func resolveSSH(p *Project, prompt CredentialPrompter) (*Settings, error) {
	port, err := validPort(p, KeySSHPort)
	if err != nil {
		return nil, err
	}
	sshUser, sshPassword, err := credentials(p, "SSH", KeySSHUser, KeySSHPassword, KeySSHSavePassword, prompt)
	if err != nil {
		return nil, err
	}
	mqlUser, mqlPassword, err := credentials(p, "Console session", KeyMQLUser, KeyMQLPassword, KeyMQLSavePassword, prompt)
	if err != nil {
		return nil, err
	}
	return lineSettings(p, ModeSSH, transport.SSHConfig{
		Host:           p.GetString(KeySSHHost),
		Port:           port,
		User:           sshUser,
		Password:       sshPassword,
		KnownHostsFile: p.GetString(KeySSHKnownHosts),
		CommandPath:    p.GetString(KeyMQLPath),
	}, mqlUser, mqlPassword, p.GetBool(KeyMQLByFileContent), p.GetBool(KeyMQLTrace)), nil
}

func lineSettings(p *Project, mode ModeName, ssh transport.SSHConfig, user, password string, byContent, trace bool) *Settings {
	return &Settings{
		Mode: mode,
		Line: &transport.LineConfig{
			SSH: ssh,
			Line: transport.LineOptions{
				SessionUser:         user,
				SessionPassword:     password,
				UpdateByFileContent: byContent,
				LoginTimeout:        p.GetDuration(KeyLoginTimeout),
				Trace:               trace,
			},
		},
	}
}

func validateSSHPropFile(p *Project) error {
	return requireKeys(p, KeyPropFilePath, KeyPropSSHHost)
}

func resolveSSHPropFile(p *Project, prompt CredentialPrompter) (*Settings, error) {
	ext, err := readPropFile(p)
	if err != nil {
		return nil, err
	}

	portText := ext.value(p.GetString(KeyPropSSHPort), fmt.Sprint(transport.DefaultSSHPort))
	port, err := cast.ToIntE(portText)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("%s: invalid SSH port %q", ext.path, portText)
	}

	sshUser, sshPassword, err := ext.credentials("SSH", p.GetString(KeyPropSSHUser), p.GetString(KeyPropSSHPassword), prompt)
	if err != nil {
		return nil, err
	}
	mqlUser, mqlPassword, err := ext.credentials("Console session", p.GetString(KeyPropMQLUser), p.GetString(KeyPropMQLPassword), prompt)
	if err != nil {
		return nil, err
	}

	return lineSettings(p, ModeSSHPropFile, transport.SSHConfig{
		Host:        ext.value(p.GetString(KeyPropSSHHost), ""),
		Port:        port,
		User:        sshUser,
		Password:    sshPassword,
		CommandPath: ext.value(p.GetString(KeyPropMQLPath), defaultMQLPath),
	}, mqlUser, mqlPassword,
		ext.flag(p.GetString(KeyPropMQLByFileContent), true),
		ext.flag(p.GetString(KeyPropMQLTrace), false)), nil
}

// propFile is an external settings file read through its own viper
// instance. Entry names are used verbatim.
type propFile struct {
	path string
	v    *viper.Viper
}

func readPropFile(p *Project) (*propFile, error) {
	path := p.GetString(KeyPropFilePath)
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.Dir, path)
	}

	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml", ".env":
	default:
		// key=value lines, read with the dotenv codec
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read property file %s: %w", path, err)
	}
	return &propFile{path: path, v: v}, nil
}

// value returns the entry named key, or def when key is empty or the entry
// is missing.
func (f *propFile) value(key, def string) string {
	if key == "" || !f.v.IsSet(key) {
		return def
	}
	return strings.TrimSpace(f.v.GetString(key))
}

func (f *propFile) flag(key string, def bool) bool {
	return parseFlag(f.value(key, ""), def)
}

// credentials reads user and password entries; both must be named or the
// prompter is asked.
func (f *propFile) credentials(realm, userKey, passKey string, prompt CredentialPrompter) (string, string, error) {
	if userKey != "" && passKey != "" {
		return f.value(userKey, ""), f.value(passKey, ""), nil
	}
	if prompt == nil {
		return "", "", fmt.Errorf("%s: %w", realm, ErrNoCredentials)
	}
	return prompt.Prompt(realm, f.value(userKey, ""))
}
