package config

type WorkerKeyStruct struct {
	ActivityQueue   string
	EvaluationQueue string
	CompletedQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	ActivityQueue:   "activity_queue",
	EvaluationQueue: "evaluation_queue",
	CompletedQueue:  "attempt_completed",
}
