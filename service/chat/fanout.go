package chat

import "hash/fnv"

type fanoutJob struct {
	sessions []*Session
	payload  []byte
}

// Fanout delivers payloads to session queues on a small worker pool. Jobs
// are sharded by room key so every broadcast for one room goes through the
// same worker: frames for a room leave in the order Broadcast was called.
// Making that order match the persisted log is the caller's job (the send
// path serializes persist+broadcast per room with Server.SyncRoom).
type Fanout struct {
	shards []chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 1
	}
	f := &Fanout{shards: make([]chan fanoutJob, workers)}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue)
		f.shards[i] = ch
		go func() {
			for job := range ch {
				for _, s := range job.sessions {
					// Slow client: frame is dropped rather than blocking
					// the shard.
					s.Enqueue(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(key string, sessions []*Session, payload []byte) {
	if len(sessions) == 0 || len(payload) == 0 {
		return
	}
	f.shards[f.shard(key)] <- fanoutJob{sessions: sessions, payload: payload}
}

func (f *Fanout) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(f.shards)))
}

func (f *Fanout) Close() {
	for _, ch := range f.shards {
		close(ch)
	}
}
