package joy

// Kernel is a task manager plus the wait for the batch to finish.
type Kernel struct {
	tm   *TaskManager
	done chan string
}

// NewKernel loads every application.  cfg.Halt, if set, is still called
// when the last task exits.
func NewKernel(cfg Config) (*Kernel, error) {
	k := &Kernel{done: make(chan string, 1)}
	userHalt := cfg.Halt
	cfg.Halt = func(msg string) {
		if userHalt != nil {
			userHalt(msg)
		}
		k.done <- msg
	}
	if cfg.Switcher == nil {
		cfg.Switcher = NewGoroutineSwitcher()
	}
	tm, err := NewTaskManager(cfg)
	if err != nil {
		return nil, err
	}
	k.tm = tm
	return k, nil
}

func (k *Kernel) TaskManager() *TaskManager {
	return k.tm
}

// Run starts task 0 and waits until no task is left.  It returns the halt
// diagnostic.
func (k *Kernel) Run() string {
	k.tm.log.Infof("[kernel] starting %d applications", k.tm.Len())
	go k.tm.Start()
	return <-k.done
}
