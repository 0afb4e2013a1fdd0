package service

import (
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"gorm.io/gorm"
)

// Sequencer 任务排序器：按优先级推导任务顺序、发料挂接点和
// 各项能力标志。只读，不做任何写入。
type Sequencer struct {
	runs  *repository.RunRepository
	comps *repository.ComponentRepository
}

func NewSequencer(runs *repository.RunRepository, comps *repository.ComponentRepository) *Sequencer {
	return &Sequencer{runs: runs, comps: comps}
}

// WithTx 返回绑定到事务的排序器
func (s *Sequencer) WithTx(tx *gorm.DB) *Sequencer {
	return &Sequencer{
		runs:  repository.NewRunRepository(tx),
		comps: repository.NewComponentRepository(tx),
	}
}

// Tasks 按优先级升序返回运行的全部任务
func (s *Sequencer) Tasks(runID string) ([]entity.ProductionRun, error) {
	return s.runs.ListTasks(runID)
}

// IsFirstTask 任务是否为最小优先级任务
func (s *Sequencer) IsFirstTask(task *entity.ProductionRun, tasks []entity.ProductionRun) bool {
	return len(tasks) > 0 && tasks[0].ID == task.ID
}

// IsFinalTask 任务是否为最大优先级任务
func (s *Sequencer) IsFinalTask(task *entity.ProductionRun, tasks []entity.ProductionRun) bool {
	return len(tasks) > 0 && tasks[len(tasks)-1].ID == task.ID
}

// IssuanceTask 组件发料挂接任务：带组件需求的任务，没有则取首任务。
// 同时返回该任务的需求列表。
func (s *Sequencer) IssuanceTask(tasks []entity.ProductionRun) (*entity.ProductionRun, []entity.ComponentAssignment, error) {
	if len(tasks) == 0 {
		return nil, nil, fmt.Errorf("%w: 运行没有任务", ErrValidation)
	}
	for i := range tasks {
		needs, err := s.comps.ListNeeds(tasks[i].ID)
		if err != nil {
			return nil, nil, err
		}
		if len(needs) > 0 {
			return &tasks[i], needs, nil
		}
	}
	return &tasks[0], nil, nil
}

// componentsIssued 需求是否已全部发料（无需求视为已发）
func componentsIssued(needs []entity.ComponentAssignment) bool {
	for i := range needs {
		if needs[i].StatusID != entity.ComponentStatusIssued {
			return false
		}
	}
	return true
}

// BomReservationInProgress 发料挂接任务已有预留但尚未发出任何组件。
// 该状态下任务不允许启动。
func (s *Sequencer) BomReservationInProgress(taskID string) (bool, error) {
	reservations, err := s.comps.ListReservations(taskID)
	if err != nil {
		return false, err
	}
	if len(reservations) == 0 {
		return false, nil
	}
	count, err := s.comps.CountPositiveIssuances(taskID)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// TaskRollup 单个任务的能力标志，每次读取重算，从不落库
type TaskRollup struct {
	TaskID          string `json:"task_id"`
	StatusID        string `json:"status_id"`
	CanStartTask    bool   `json:"can_start_task"`
	CanCompleteTask bool   `json:"can_complete_task"`
	CanDeclareTask  bool   `json:"can_declare_task"`
	CanProduce      bool   `json:"can_produce"`
}

// RunRollup 运行级能力标志
type RunRollup struct {
	RunID                    string       `json:"run_id"`
	CanDeclareAndProduce     bool         `json:"can_declare_and_produce"`
	BomReservationInProgress bool         `json:"bom_reservation_in_progress"`
	Tasks                    []TaskRollup `json:"tasks"`
}

// Task 按任务ID取标志
func (r *RunRollup) Task(taskID string) *TaskRollup {
	for i := range r.Tasks {
		if r.Tasks[i].TaskID == taskID {
			return &r.Tasks[i]
		}
	}
	return nil
}

// 任务可启动的前置状态
func startable(statusID string) bool {
	switch statusID {
	case entity.StatusCreated, entity.StatusScheduled, entity.StatusConfirmed:
		return true
	}
	return false
}

// Rollup 重算运行与各任务的能力标志：
//   - 任务可启动：处于可启动状态，所有更低优先级任务均已完工，
//     且挂接任务的组件已发料；挂接任务存在未发出的预留时一律不可启动。
//     挂接任务自身同样受前序完工约束，组件挂在中间工序不改变执行顺序
//   - 运行可申报入库：末任务执行中/已完工，或所有任务已完工
func (s *Sequencer) Rollup(run *entity.ProductionRun) (*RunRollup, error) {
	tasks, err := s.Tasks(run.ID)
	if err != nil {
		return nil, err
	}

	rollup := &RunRollup{RunID: run.ID}
	if len(tasks) == 0 {
		return rollup, nil
	}

	issTask, issNeeds, err := s.IssuanceTask(tasks)
	if err != nil {
		return nil, err
	}
	issued := componentsIssued(issNeeds)
	reserving, err := s.BomReservationInProgress(issTask.ID)
	if err != nil {
		return nil, err
	}
	rollup.BomReservationInProgress = reserving

	deliverables, err := s.comps.ListDeliverables(run.ID)
	if err != nil {
		return nil, err
	}

	allCompleted := true
	for i := range tasks {
		if tasks[i].StatusID != entity.StatusCompleted {
			allCompleted = false
			break
		}
	}

	for i := range tasks {
		task := &tasks[i]
		flags := TaskRollup{TaskID: task.ID, StatusID: task.StatusID}

		if startable(task.StatusID) && !reserving {
			predecessorsDone := true
			for j := range tasks {
				if tasks[j].Priority < task.Priority && tasks[j].StatusID != entity.StatusCompleted {
					predecessorsDone = false
					break
				}
			}
			flags.CanStartTask = predecessorsDone && issued
		}

		flags.CanCompleteTask = task.StatusID == entity.StatusRunning

		active := task.StatusID == entity.StatusRunning || task.StatusID == entity.StatusCompleted
		if s.IsFinalTask(task, tasks) {
			flags.CanDeclareTask = active
		}
		if active {
			for j := range deliverables {
				if deliverables[j].TaskID == task.ID {
					flags.CanProduce = true
					break
				}
			}
		}

		rollup.Tasks = append(rollup.Tasks, flags)
	}

	final := &tasks[len(tasks)-1]
	rollup.CanDeclareAndProduce = allCompleted ||
		final.StatusID == entity.StatusRunning || final.StatusID == entity.StatusCompleted

	return rollup, nil
}
