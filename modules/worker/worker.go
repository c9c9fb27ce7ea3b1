package worker

import (
	"context"
	"log"
	"time"

	"archiviz-render-server/modules/common/redis"
	"archiviz-render-server/modules/render"
)

// StartWorker - watch the Redis queue and process render jobs. Jobs run one
// at a time: the next BRPOP happens only after the current job settles, so
// batches from different jobs never interleave at the upstream API.
func StartWorker(deps *render.Deps) {
	log.Println("🔄 Redis Queue Worker starting...")
	log.Printf("👀 Watching queue: %s", redis.QueueKey)

	ctx := context.Background()

	for {
		// BRPOP blocks until a job id arrives
		result, err := deps.Redis.BRPop(ctx, 0, redis.QueueKey).Result()
		if err != nil {
			log.Printf("❌ Redis BRPOP error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		// result[0] is the queue name, result[1] the job id
		jobID := result[1]
		log.Printf("🎯 Received new job: %s", jobID)

		job, err := deps.DB.FetchJob(jobID)
		if err != nil {
			log.Printf("❌ Failed to fetch job %s: %v", jobID, err)
			continue
		}

		log.Printf("📦 Job Data:")
		log.Printf("   JobID: %s", job.JobID)
		log.Printf("   JobType: %s", job.JobType)
		log.Printf("   Status: %s", job.JobStatus)
		log.Printf("   TotalImages: %d", job.TotalImages)

		render.ProcessJob(ctx, deps, job)
	}
}
