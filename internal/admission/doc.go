// Package admission решает, допускается ли новый task к выполнению.
//
// Допуск ограничен дневной квотой пользователя (quota.Store). Квота
// списывается при допуске, а не при завершении: упавший или отменённый
// task всё равно израсходовал слот. Единственное исключение — task,
// который так и не был создан: для него выполняется компенсирующий
// decrement, и эта логика живёт только здесь.
package admission
