// Package protocol defines the vocabulary shared by the mxdeploy client and
// the dispatcher peer: method names, argument keys and the reserved response
// slots.
package protocol

// Process-level methods understood by the framed dispatcher peer.
const (
	MethodTest     = "test"
	MethodExit     = "exit"
	MethodDispatch = "dispatch"
)

// Replies to MethodTest.
const (
	ReplyConnect   = "connect"
	ReplyConnected = "connected"
)

// Keys of a process-level request map and its reply.
const (
	FrameKeyMethod = "method"
	FrameKeyArg1   = "arg1"
	FrameKeyArg2   = "arg2"
	FrameKeyArg3   = "arg3"
	FrameKeyReturn = "ret"
)

// Dispatcher operations.
const (
	OpExport          = "Export"
	OpUpdate          = "Update"
	OpSearch          = "Search"
	OpExecute         = "Execute"
	OpGetVersion      = "GetVersion"
	OpGetProperty     = "GetProperty"
	OpTypeDefTreeList = "TypeDefTreeList"
)

// Parameter and argument keys.
const (
	ParamCompile = "Compile"

	ArgFileContents = "FileContents"
	ArgFileNames    = "FileNames"
	ArgFileName     = "FileName"
	ArgTypeDef      = "TypeDef"
	ArgName         = "Name"
	ArgTypeDefList  = "TypeDefList"
	ArgMatch        = "Match"
	ArgCommand      = "Command"
)

// Keys of exported and searched items.
const (
	ItemFileName = "FileName"
	ItemFilePath = "FilePath"
	ItemName     = "Name"
	ItemTypeDef  = "TypeDef"
	ItemCode     = "Code"
)

// Keys of an update result.
const (
	UpdateUpdated = "Updated"
	UpdateFailed  = "Failed"
)

// Keys of the type definition tree.
const (
	TreeRoot        = "All"
	TreeLabel       = "Label"
	TreeChildren    = "TypeDefTreeList"
	TreeTypeDefList = "TypeDefList"
)

// Console protocol literals.
const (
	// DispatcherProgram is the program invoked with "exec prog" on the console.
	DispatcherProgram = "org.mxupdate.plugin.Dispatcher"
	// PrintContext makes the console print its current context line.
	PrintContext = "print context;"
	// ContextPrefix starts every line printed by PrintContext.
	ContextPrefix = "context vault "
)
