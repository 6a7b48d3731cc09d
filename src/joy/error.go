package joy

import "fmt"

const subsystemMask = 0x00ff_0000_0000_0000
const taskIDMask = 0x0000_ffff_0000_0000
const errorNumberMask = 0x0000_0000_0000_ffff

const JoyNoError = JoyError(0)

// Memory Errors
const MemorySubsystem = 1
const MemoryOutOfFrames = 1
const MemoryRegionConflict = 2
const MemoryNotMapped = 3
const MemoryBadRange = 4

var ErrorMemoryOutOfFrames = errorValue(MemorySubsystem, MemoryOutOfFrames)
var ErrorMemoryRegionConflict = errorValue(MemorySubsystem, MemoryRegionConflict)
var ErrorMemoryNotMapped = errorValue(MemorySubsystem, MemoryNotMapped)
var ErrorMemoryBadRange = errorValue(MemorySubsystem, MemoryBadRange)

// Task Errors
const TaskSubsystem = 2
const TaskNoApplications = 1
const TaskBadImage = 2

var ErrorTaskNoApplications = errorValue(TaskSubsystem, TaskNoApplications)
var ErrorTaskBadImage = errorValue(TaskSubsystem, TaskBadImage)

// Translate Errors
const TranslateSubsystem = 3
const TranslateFault = 1

var ErrorTranslateFault = errorValue(TranslateSubsystem, TranslateFault)

// JoyError is a RawJoyError with the task it happened to filled in.
type JoyError uint64
type RawJoyError uint64 // error with just the constant part of the value filled in

var errorMap = map[RawJoyError]string{
	ErrorMemoryOutOfFrames:    "out of physical frames",
	ErrorMemoryRegionConflict: "region overlaps an existing mapping",
	ErrorMemoryNotMapped:      "page in range is not mapped",
	ErrorMemoryBadRange:       "virtual range outside the user address space",
	ErrorTaskNoApplications:   "no applications to run",
	ErrorTaskBadImage:         "application image cannot be loaded",
	ErrorTranslateFault:       "user pointer does not resolve to a user page",
}

func errorValue(subsys byte, errorNumber uint16) RawJoyError {
	ss := subsystemMask & (uint64(subsys) << 48)
	en := errorNumberMask & (uint64(errorNumber) << 0)
	return RawJoyError(ss | en)
}

func (r RawJoyError) Error() string {
	t, ok := errorMap[r]
	if !ok {
		return "Unknown error code"
	}
	return t
}

// MakeError adds the dynamic fields (the task index) to the error value.
func MakeError(rawError RawJoyError, task int) JoyError {
	tid := (uint64(task) << 32) & taskIDMask
	return JoyError(uint64(rawError) | tid)
}

func (j JoyError) Raw() RawJoyError {
	return RawJoyError(uint64(j) &^ taskIDMask)
}

func (j JoyError) Task() int {
	return int((uint64(j) & taskIDMask) >> 32)
}

func (j JoyError) Error() string {
	return fmt.Sprintf("task %d: %s", j.Task(), j.Raw().Error())
}

// Is lets errors.Is match a JoyError against the raw constant.
func (j JoyError) Is(target error) bool {
	r, ok := target.(RawJoyError)
	return ok && r == j.Raw()
}
